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
	"time"
)

// Ping sends a probe and waits for the peer to answer it. It returns the
// round-trip time in milliseconds.
//
// Receiving is paused while the probe is in flight so the reply is read here.
// A probe the peer sends at the same time is taken as the reply.
func (l *Link) Ping(ctx context.Context) (int64, error) {
	if !l.isOpen.Load() {
		return 0, ErrNotOpen
	}
	l.d.detach()
	defer l.d.attach()

	if err := l.lockIO(ctx); err != nil {
		return 0, err
	}
	defer l.unlockIO()
	if err := l.send(ctx, ProbeFrame()); err != nil {
		return 0, err
	}
	start := time.Now()
	line, err := l.transport.ReadLine(ctx)
	if err != nil {
		return 0, wrapIO("read", err)
	}
	f, err := DecodeFrame(line)
	if err != nil {
		return 0, err
	}
	if f.Kind != FrameProbe {
		return 0, &ProtocolFramingError{Line: line, Reason: "expected probe reply"}
	}
	rtt := time.Since(start).Milliseconds()
	l.logger().Debug().Int64("rtt_ms", rtt).Msg("ping")
	return rtt, nil
}

// PingAsync runs Ping on its own goroutine and passes the result to done.
func (l *Link) PingAsync(ctx context.Context, done func(rtt int64, err error)) {
	go func() {
		rtt, err := l.Ping(ctx)
		if done != nil {
			done(rtt, err)
		}
	}()
}
