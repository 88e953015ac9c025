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

// handshakePollInterval is how often the remote ready signal is sampled.
const handshakePollInterval = 10 * time.Millisecond

// waitRemoteReady asserts the local ready signal and blocks the caller until
// the remote ready signal is seen. A negative timeout waits until ctx is done.
// The wait ends at most one poll interval after the timeout has elapsed.
func waitRemoteReady(ctx context.Context, t Transport, timeout time.Duration) error {
	if err := t.SetLocalReady(true); err != nil {
		return wrapIO("set local ready", err)
	}
	start := time.Now()
	ticker := time.NewTicker(handshakePollInterval)
	defer ticker.Stop()
	for {
		ready, err := t.RemoteReady()
		if err != nil {
			return wrapIO("read remote ready", err)
		}
		if ready {
			return nil
		}
		waited := time.Since(start)
		if timeout >= 0 && waited >= timeout {
			return &HandshakeTimeoutError{Timeout: timeout, Waited: waited}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
