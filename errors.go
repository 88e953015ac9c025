package gxlink

// --------------------------------------------------------------------------
//
//	Gurux Ltd
//
// Filename:        $HeadURL$
//
// Version:         $Revision$,
//
//	$Date$
//	$Author$
//
// # Copyright (c) Gurux Ltd
//
// ---------------------------------------------------------------------------
//
//	DESCRIPTION
//
// This file is a part of Gurux Device Framework.
//
// Gurux Device Framework is Open Source software; you can redistribute it
// and/or modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2 of the License.
// Gurux Device Framework is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU General Public License for more details.
//
// More information of Gurux products: https://www.gurux.org
//
// This code is licensed under the GNU General Public License v2.
// Full text may be retrieved at http://www.gnu.org/licenses/gpl-2.0.txt
// ---------------------------------------------------------------------------

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when a read, write or handshake deadline passes.
	ErrTimeout = errors.New("operation timed out")
	// ErrNotOpen is returned when I/O is attempted on a closed link or transport.
	ErrNotOpen = errors.New("link is not open")
	// ErrClosed is returned to readers blocked while the transport is closed.
	ErrClosed = errors.New("transport closed")
	// ErrDisposed is returned by Open after Dispose.
	ErrDisposed = errors.New("link disposed")
)

// ValidationError is returned when a configuration value is rejected.
// The configuration is left unchanged.
type ValidationError struct {
	Field  Field
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// TransportOpenError is returned by Open when the port can't be opened.
type TransportOpenError struct {
	Port string
	Err  error
}

func (e *TransportOpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Port, e.Err)
}

func (e *TransportOpenError) Unwrap() error {
	return e.Err
}

// IOError wraps a low-level read or write failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return e.Op + " failed: " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the operation failed on its deadline.
func (e *IOError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// HandshakeTimeoutError is returned when the remote ready signal is not
// observed within the write timeout.
type HandshakeTimeoutError struct {
	Timeout time.Duration
	Waited  time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("handshake timeout: remote not ready after %v (timeout %v)", e.Waited, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) true for handshake timeouts.
func (e *HandshakeTimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ProtocolFramingError is returned when a received line is not a valid frame.
type ProtocolFramingError struct {
	Line   []byte
	Reason string
}

func (e *ProtocolFramingError) Error() string {
	return fmt.Sprintf("framing error: %s: %q", e.Reason, e.Line)
}

// wrapIO wraps err into IOError unless it already is one.
func wrapIO(op string, err error) error {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, Err: err}
}
