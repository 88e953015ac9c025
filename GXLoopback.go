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
	"context"
	"sync"
	"time"
)

// LoopbackSettings is the configuration a LoopbackTransport has received.
type LoopbackSettings struct {
	PortName     string
	BaudRate     BaudRate
	DataBits     int
	Parity       Parity
	StopBits     StopBits
	Handshake    FlowControl
	Terminator   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LoopbackTransport is one end of an in-memory line. Bytes written to one
// end are received by the other end. Bytes written while the other end is
// closed are lost.
type LoopbackTransport struct {
	mu         sync.Mutex
	peer       *LoopbackTransport
	open       bool
	localReady bool
	settings   LoopbackSettings
	openErr    error
	onReceived func()
	received   *lineBuffer
}

// NewLoopback returns two connected loopback transports. The local ready
// signal of one end is the remote ready signal of the other.
func NewLoopback() (*LoopbackTransport, *LoopbackTransport) {
	a := newLoopbackEnd()
	b := newLoopbackEnd()
	a.peer = b
	b.peer = a
	return a, b
}

func newLoopbackEnd() *LoopbackTransport {
	return &LoopbackTransport{
		settings: LoopbackSettings{
			BaudRate:     BaudRate9600,
			DataBits:     8,
			StopBits:     StopBitsOne,
			Terminator:   "\n",
			ReadTimeout:  -1,
			WriteTimeout: -1,
		},
		received: newLineBuffer("\n"),
	}
}

// Settings returns the current settings.
func (t *LoopbackTransport) Settings() LoopbackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// SetOpenError makes the following Open calls fail with err until it is set to nil.
func (t *LoopbackTransport) SetOpenError(err error) {
	t.mu.Lock()
	t.openErr = err
	t.mu.Unlock()
}

// Open implements Transport.
func (t *LoopbackTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return t.openErr
	}
	if !t.open {
		t.received.Reset()
		t.open = true
	}
	return nil
}

// Close implements Transport.
func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		t.open = false
		t.received.Close()
	}
	return nil
}

// IsOpen implements Transport.
func (t *LoopbackTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *LoopbackTransport) update(fn func(s *LoopbackSettings)) error {
	t.mu.Lock()
	fn(&t.settings)
	t.mu.Unlock()
	return nil
}

// SetPortName implements Transport.
func (t *LoopbackTransport) SetPortName(name string) error {
	return t.update(func(s *LoopbackSettings) { s.PortName = name })
}

// SetBaudRate implements Transport.
func (t *LoopbackTransport) SetBaudRate(value BaudRate) error {
	return t.update(func(s *LoopbackSettings) { s.BaudRate = value })
}

// SetDataBits implements Transport.
func (t *LoopbackTransport) SetDataBits(value int) error {
	return t.update(func(s *LoopbackSettings) { s.DataBits = value })
}

// SetParity implements Transport.
func (t *LoopbackTransport) SetParity(value Parity) error {
	return t.update(func(s *LoopbackSettings) { s.Parity = value })
}

// SetStopBits implements Transport.
func (t *LoopbackTransport) SetStopBits(value StopBits) error {
	return t.update(func(s *LoopbackSettings) { s.StopBits = value })
}

// SetHandshake implements Transport.
func (t *LoopbackTransport) SetHandshake(value FlowControl) error {
	return t.update(func(s *LoopbackSettings) { s.Handshake = value })
}

// SetTerminator implements Transport.
func (t *LoopbackTransport) SetTerminator(value string) error {
	t.received.SetTerminator(value)
	return t.update(func(s *LoopbackSettings) { s.Terminator = value })
}

// SetReadTimeout implements Transport.
func (t *LoopbackTransport) SetReadTimeout(value time.Duration) error {
	return t.update(func(s *LoopbackSettings) { s.ReadTimeout = value })
}

// SetWriteTimeout implements Transport.
func (t *LoopbackTransport) SetWriteTimeout(value time.Duration) error {
	return t.update(func(s *LoopbackSettings) { s.WriteTimeout = value })
}

// SetLocalReady implements Transport. The value is kept while closed.
func (t *LoopbackTransport) SetLocalReady(on bool) error {
	t.mu.Lock()
	t.localReady = on
	t.mu.Unlock()
	return nil
}

// RemoteReady implements Transport. The remote end is ready when it is open
// and has asserted its local ready signal.
func (t *LoopbackTransport) RemoteReady() (bool, error) {
	if !t.IsOpen() {
		return false, ErrNotOpen
	}
	p := t.peer
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open && p.localReady, nil
}

// SetOnReceived implements Transport.
func (t *LoopbackTransport) SetOnReceived(fn func()) {
	t.mu.Lock()
	t.onReceived = fn
	t.mu.Unlock()
}

// Write implements Transport. Data is delivered to the other end before Write returns.
func (t *LoopbackTransport) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.IsOpen() {
		return ErrNotOpen
	}
	p := t.peer
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil
	}
	complete := p.received.Append(data)
	cb := p.onReceived
	p.mu.Unlock()
	if complete && cb != nil {
		cb()
	}
	return nil
}

// ReadLine implements Transport.
func (t *LoopbackTransport) ReadLine(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	open := t.open
	timeout := t.settings.ReadTimeout
	t.mu.Unlock()
	if !open {
		return nil, ErrNotOpen
	}
	return t.received.ReadLine(ctx, timeout)
}

// Pending implements Transport.
func (t *LoopbackTransport) Pending() bool {
	return t.received.Pending()
}
