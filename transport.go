package gxlink

import (
	"context"
	"time"
)

// Transport is a duplex line stream a Link runs on.
//
// Setters store the value while the transport is closed and apply it
// immediately while it is open. A negative timeout means no timeout.
type Transport interface {
	Open() error
	Close() error
	IsOpen() bool

	SetPortName(name string) error
	SetBaudRate(value BaudRate) error
	SetDataBits(value int) error
	SetParity(value Parity) error
	SetStopBits(value StopBits) error
	SetTerminator(value string) error
	SetHandshake(value FlowControl) error
	SetReadTimeout(value time.Duration) error
	SetWriteTimeout(value time.Duration) error

	// Write writes data as is. It blocks up to the write timeout.
	Write(ctx context.Context, data []byte) error
	// ReadLine returns the next line without the terminator. It blocks up to
	// the read timeout and fails with ErrTimeout after it.
	ReadLine(ctx context.Context) ([]byte, error)
	// Pending reports whether ReadLine would return without blocking.
	Pending() bool

	// SetLocalReady asserts or clears the local ready signal (DTR).
	SetLocalReady(on bool) error
	// RemoteReady reports the remote ready signal (DSR).
	RemoteReady() (bool, error)

	// SetOnReceived sets the function called when a line or a receive error
	// becomes available. It is called on a goroutine owned by the transport.
	SetOnReceived(fn func())
}

// toDuration converts milliseconds or NoTimeout to a duration.
func toDuration(ms int) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}
