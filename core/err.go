package core

import (
	"errors"
	"strconv"
)

// Err is the status vocabulary shared by every layer of the HAL.
// OK is zero and every failure is negative, mirroring POSIX errno names.
type Err int

const (
	OK             Err = 0   // Successfully completed
	TooBig         Err = -1  // Argument list too long
	Acces          Err = -2  // Permission denied
	AddrInUse      Err = -3  // Address in use
	AddrNotAvail   Err = -4  // Address not available
	AfNoSupport    Err = -5  // Address family not supported
	Again          Err = -6  // Resource unavailable
	Already        Err = -7  // Operation already in progress
	BadF           Err = -8  // Bad file descriptor
	BadMsg         Err = -9  // Bad message
	Busy           Err = -10 // Device or resource busy
	Canceled       Err = -11 // Operation canceled
	Child          Err = -12 // No child processes
	ConnAborted    Err = -13 // Connection aborted
	ConnRefused    Err = -14 // Connection refused
	ConnReset      Err = -15 // Connection reset
	DeadLk         Err = -16 // Resource deadlock would occur
	DestAddrReq    Err = -17 // Destination address required
	Dom            Err = -18 // Argument out of domain of function
	Exist          Err = -19 // File exists
	Fault          Err = -20 // Bad address
	FBig           Err = -21 // File too large
	HostUnreach    Err = -22 // Host is unreachable
	IDRM           Err = -23 // Identifier removed
	IlSeq          Err = -24 // Illegal byte sequence
	InProgress     Err = -25 // Operation in progress
	Intr           Err = -26 // Interrupted function
	Inval          Err = -27 // Invalid argument
	IO             Err = -28 // I/O error
	IsConn         Err = -29 // Socket is connected
	IsDir          Err = -30 // Is a directory
	Loop           Err = -31 // Too many levels of symbolic links
	MFile          Err = -32 // File descriptor value too large
	MLink          Err = -33 // Too many links
	MsgSize        Err = -34 // Message too large
	NameTooLong    Err = -35 // Filename too long
	NetDown        Err = -36 // Network is down
	NetReset       Err = -37 // Connection aborted by network
	NetUnreach     Err = -38 // Network unreachable
	NFile          Err = -39 // Too many files open in system
	NoBufs         Err = -40 // No buffer space available
	NoData         Err = -41 // No message available
	NoDev          Err = -42 // No such device
	NoEnt          Err = -43 // No such file or directory
	NoExec         Err = -44 // Executable file format error
	NoLck          Err = -45 // No locks available
	NoLink         Err = -46 // Link has been severed
	NoMem          Err = -47 // Not enough space
	NoMsg          Err = -48 // No message of the desired type
	NoProtoOpt     Err = -49 // Protocol not available
	NoSpc          Err = -50 // No space left on device
	NoSR           Err = -51 // No STREAM resources
	NoStr          Err = -52 // Not a STREAM
	NoSys          Err = -53 // Function not supported
	NotConn        Err = -54 // Not connected
	NotDir         Err = -55 // Not a directory
	NotEmpty       Err = -56 // Directory not empty
	NotRecoverable Err = -57 // State not recoverable
	NotSock        Err = -58 // Not a socket
	NotSup         Err = -59 // Not supported
	NoTTY          Err = -60 // Inappropriate I/O control operation
	NXIO           Err = -61 // No such device or address
	OpNotSupp      Err = -62 // Operation not supported on socket
	Overflow       Err = -63 // Value too large to be stored in data type
	OwnerDead      Err = -64 // Previous owner died
	Perm           Err = -65 // Operation not permitted
	Pipe           Err = -66 // Broken pipe
	Proto          Err = -67 // Protocol error
	ProtoNoSupport Err = -68 // Protocol not supported
	ProtoType      Err = -69 // Protocol wrong type for socket
	Range          Err = -70 // Result too large
	ROFS           Err = -71 // Read-only file system
	SPipe          Err = -72 // Invalid seek
	Srch           Err = -73 // No such process
	Time           Err = -74 // Stream timeout
	TimedOut       Err = -75 // Connection timed out
	TxtBsy         Err = -76 // Text file busy
	WouldBlock     Err = -77 // Operation would block
	XDev           Err = -78 // Cross-device link
	Generic        Err = -79 // Generic error
)

var errNames = [...]string{
	"ok", "toobig", "acces", "addrinuse", "addrnotavail", "afnosupport",
	"again", "already", "badf", "badmsg", "busy", "canceled", "child",
	"connaborted", "connrefused", "connreset", "deadlk", "destaddrreq", "dom",
	"exist", "fault", "fbig", "hostunreach", "idrm", "ilseq", "inprogress",
	"intr", "inval", "io", "isconn", "isdir", "loop", "mfile", "mlink",
	"msgsize", "nametoolong", "netdown", "netreset", "netunreach", "nfile",
	"nobufs", "nodata", "nodev", "noent", "noexec", "nolck", "nolink", "nomem",
	"nomsg", "noprotoopt", "nospc", "nosr", "nostr", "nosys", "notconn",
	"notdir", "notempty", "notrecoverable", "notsock", "notsup", "notty",
	"nxio", "opnotsupp", "overflow", "ownerdead", "perm", "pipe", "proto",
	"protonosupport", "prototype", "range", "rofs", "spipe", "srch", "time",
	"timedout", "txtbsy", "wouldblock", "xdev", "generic",
}

// IsOK reports whether e is a success status.
func (e Err) IsOK() bool {
	return e == OK
}

// IsError reports whether e is a failure status.
func (e Err) IsError() bool {
	return e != OK
}

// String returns the short errno-style name of e.
func (e Err) String() string {
	idx := -int(e)
	if idx < 0 || idx >= len(errNames) {
		return "unknown(" + strconv.Itoa(int(e)) + ")"
	}
	return errNames[idx]
}

// Error implements the error interface so an Err can travel through
// ordinary Go error returns and be matched with errors.Is.
func (e Err) Error() string {
	return e.String()
}

// ToErr maps an arbitrary error back into the status vocabulary.
// nil becomes OK, wrapped Err values are unwrapped and anything else
// is reported as Generic.
func ToErr(err error) Err {
	if err == nil {
		return OK
	}
	var e Err
	if errors.As(err, &e) {
		return e
	}
	return Generic
}
