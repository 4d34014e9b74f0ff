package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrSign(t *testing.T) {
	if !OK.IsOK() || OK.IsError() {
		t.Error("OK must be a success status")
	}
	for _, e := range []Err{TooBig, Busy, Inval, IO, Generic} {
		if e >= 0 {
			t.Errorf("Expected %v to be negative, got %d", e, int(e))
		}
		if !e.IsError() {
			t.Errorf("Expected %v to be an error", e)
		}
	}
}

func TestErrString(t *testing.T) {
	tests := []struct {
		err  Err
		want string
	}{
		{OK, "ok"},
		{IO, "io"},
		{Inval, "inval"},
		{Busy, "busy"},
		{Perm, "perm"},
		{Generic, "generic"},
		{Err(-200), "unknown(-200)"},
		{Err(5), "unknown(5)"},
	}

	for _, tt := range tests {
		if got := tt.err.String(); got != tt.want {
			t.Errorf("Err(%d).String() = %q, expected %q", int(tt.err), got, tt.want)
		}
	}
}

func TestToErr(t *testing.T) {
	if got := ToErr(nil); got != OK {
		t.Errorf("Expected OK for nil, got %v", got)
	}

	wrapped := fmt.Errorf("xfer: %w", IO)
	if got := ToErr(wrapped); got != IO {
		t.Errorf("Expected io for wrapped error, got %v", got)
	}
	if !errors.Is(wrapped, IO) {
		t.Error("errors.Is should match a wrapped Err")
	}

	if got := ToErr(errors.New("boom")); got != Generic {
		t.Errorf("Expected generic for foreign error, got %v", got)
	}
}
