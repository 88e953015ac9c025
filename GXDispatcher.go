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
	"errors"
	"sync"

	"go.uber.org/atomic"
)

// dispatcher is the attach/detach state of the receive goroutine.
// mu is held while the attached state is checked and one line is read,
// so detach waits for a read in progress and no read starts while detached.
type dispatcher struct {
	mu       sync.Mutex
	detached atomic.Int32
	kick     chan struct{}

	wg   sync.WaitGroup
	stop context.CancelFunc
}

func newDispatcher() *dispatcher {
	return &dispatcher{kick: make(chan struct{}, 1)}
}

// notify wakes the receive goroutine. It never blocks.
func (d *dispatcher) notify() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *dispatcher) attached() bool {
	return d.detached.Load() == 0
}

// detach stops line delivery until attach is called. It waits for a read
// in progress. Detach calls nest.
func (d *dispatcher) detach() {
	d.mu.Lock()
	d.detached.Inc()
	d.mu.Unlock()
}

// attach undoes one detach. Lines that arrived while detached are
// processed after the last attach.
func (d *dispatcher) attach() {
	if d.detached.Dec() == 0 {
		d.notify()
	}
}

func (d *dispatcher) start(run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	d.stop = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		run(ctx)
	}()
	d.notify()
}

// cancel tells the receive goroutine to end. Use wait to wait for it.
func (d *dispatcher) cancel() {
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

func (d *dispatcher) wait() {
	d.wg.Wait()
}

// receiver is the receive goroutine of the link.
func (l *Link) receiver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.d.kick:
		}
		for ctx.Err() == nil {
			line, ok, err := l.nextLine(ctx)
			if !ok {
				break
			}
			if err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					break
				}
				l.logger().Warn().Err(err).Msg("receive failed")
				l.errorf(wrapIO("read", err))
				continue
			}
			l.handleLine(ctx, line)
		}
	}
}

// nextLine reads one pending line if the dispatcher is attached.
func (l *Link) nextLine(ctx context.Context) ([]byte, bool, error) {
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	if !l.d.attached() || !l.transport.Pending() {
		return nil, false, nil
	}
	line, err := l.transport.ReadLine(ctx)
	return line, true, err
}

func (l *Link) handleLine(ctx context.Context, line []byte) {
	f, err := DecodeFrame(line)
	if err != nil {
		l.logger().Warn().Err(err).Msg("invalid frame received")
		l.errorf(err)
		return
	}
	switch f.Kind {
	case FrameProbe:
		if err = l.lockIO(ctx); err != nil {
			return
		}
		err = l.send(ctx, ProbeFrame())
		l.unlockIO()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.logger().Warn().Err(err).Msg("probe reply failed")
			l.errorf(err)
			return
		}
		l.logger().Debug().Msg("probe answered")
	case FrameText:
		l.receivef(f.Payload)
	}
}
