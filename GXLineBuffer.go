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
	"bytes"
	"context"
	"sync"
	"time"
)

// lineBuffer collects received bytes and hands them out line by line.
// Receive errors are queued behind the data received before them.
type lineBuffer struct {
	mu         sync.Mutex
	buf        []byte
	errs       []error
	terminator []byte
	closed     bool
	wait       chan struct{}
}

func newLineBuffer(terminator string) *lineBuffer {
	return &lineBuffer{terminator: []byte(terminator), wait: make(chan struct{})}
}

// wake releases every waiter. Caller must hold b.mu.
func (b *lineBuffer) wake() {
	old := b.wait
	b.wait = make(chan struct{})
	close(old)
}

// Append adds received bytes and reports whether a complete line is now buffered.
func (b *lineBuffer) Append(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	b.wake()
	return bytes.Contains(b.buf, b.terminator)
}

// Fail queues a receive error for the next reader.
func (b *lineBuffer) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, err)
	b.wake()
}

// SetTerminator changes the line terminator. Buffered bytes are kept.
func (b *lineBuffer) SetTerminator(value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminator = []byte(value)
	b.wake()
}

// Reset clears buffered data and errors and makes the buffer usable again after Close.
func (b *lineBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = b.buf[:0]
	b.errs = nil
	b.closed = false
}

// Close fails blocked and future reads with ErrClosed.
func (b *lineBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.wake()
}

// Pending reports whether a line or an error is waiting.
func (b *lineBuffer) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.errs) != 0 || bytes.Contains(b.buf, b.terminator)
}

// Len returns the amount of buffered bytes.
func (b *lineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// take removes the next line or error. Caller must hold b.mu.
func (b *lineBuffer) take() ([]byte, bool, error) {
	if i := bytes.Index(b.buf, b.terminator); i >= 0 {
		line := bytes.Clone(b.buf[:i])
		b.buf = append(b.buf[:0], b.buf[i+len(b.terminator):]...)
		return line, true, nil
	}
	if len(b.errs) != 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return nil, true, err
	}
	return nil, false, nil
}

// ReadLine waits until a complete line is buffered and returns it without
// the terminator. A negative timeout waits until ctx is done.
func (b *lineBuffer) ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		b.mu.Lock()
		line, ok, err := b.take()
		if ok {
			b.mu.Unlock()
			return line, err
		}
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		ch := b.wait
		b.mu.Unlock()

		select {
		case <-ch:
		case <-expired:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
