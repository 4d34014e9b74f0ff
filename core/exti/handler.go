package exti

import (
	"errors"

	"thecore/core"
	"thecore/core/list"
)

// Callback runs in interrupt context with the handler's context value.
type Callback func(ctx any)

// Handler is one subscriber to one external interrupt line. The manager
// keeps a non-owning reference to it while it is subscribed; the owner
// must Close (or Unsubscribe) it before dropping it.
//
// The zero value is a valid handler with no callback.
type Handler struct {
	node list.Node[Handler]
	cb   Callback
	ctx  any

	mgr  *Manager
	port Port
	line Line
}

// NewHandler creates an unsubscribed handler.
func NewHandler(cb Callback, ctx any) *Handler {
	h := &Handler{cb: cb, ctx: ctx}
	h.node.Init(h)
	return h
}

// SetCallback replaces the callback. Only call it while unsubscribed.
func (h *Handler) SetCallback(cb Callback) {
	h.cb = cb
}

// SetContext replaces the context value. Only call it while unsubscribed.
func (h *Handler) SetContext(ctx any) {
	h.ctx = ctx
}

// Context returns the context value passed to the callback.
func (h *Handler) Context() any {
	return h.ctx
}

// Subscribed reports whether the handler is linked into a manager.
func (h *Handler) Subscribed() bool {
	return h.node.Linked()
}

// Pin returns the pin the handler was subscribed with.
func (h *Handler) Pin() PinID {
	return PinID{P: h.port, L: h.line}
}

// Close unsubscribes the handler if it is still subscribed. It is safe to
// call any number of times and concurrently with interrupt delivery.
func (h *Handler) Close() error {
	m := h.mgr
	if m == nil {
		return nil
	}
	if err := m.Unsubscribe(h); err != nil && !errors.Is(err, core.NoEnt) {
		return err
	}
	return nil
}

func (h *Handler) invoke() {
	if h.cb != nil {
		h.cb(h.ctx)
	}
}
