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
	"fmt"
	"sync"

	"github.com/Gurux/gxcommon-go"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// ReceivedHandler is called with the payload of every received text frame.
type ReceivedHandler func(l *Link, payload string)

// ErrorHandler is called when receiving fails or a config change can't be applied.
type ErrorHandler func(l *Link, err error)

// StateHandler is called when the link is opened or closed.
type StateHandler func(l *Link, state gxcommon.MediaState)

// Link exchanges text frames and probes with a peer over a Transport.
//
// Handlers are called on a goroutine owned by the link, never on the caller
// of Open, WriteLine or Ping. Handlers that need a specific goroutine must
// hand the event over themselves. Handlers must not call Close or Dispose.
type Link struct {
	config      *LinkConfig
	transport   Transport
	unsubscribe func()

	// mu serializes Open, Close and Dispose.
	mu sync.Mutex
	// io is a one slot semaphore held for the handshake, the write and
	// the probe reply read.
	io       chan struct{}
	isOpen   atomic.Bool
	disposed atomic.Bool
	d        *dispatcher

	hmu        sync.RWMutex
	onReceived ReceivedHandler
	onError    ErrorHandler
	onState    StateHandler
	log        zerolog.Logger
}

// NewLink returns a link on a serial port described by config.
func NewLink(config *LinkConfig) *Link {
	return NewLinkWithTransport(config, NewSerialTransport())
}

// NewLinkForPort returns a link on the named serial port with default settings.
func NewLinkForPort(portName string) *Link {
	return NewLink(NewLinkConfig(portName))
}

// NewLinkWithTransport returns a link that owns transport t.
// The link observes config until Dispose is called.
func NewLinkWithTransport(config *LinkConfig, t Transport) *Link {
	l := &Link{
		config:    config,
		transport: t,
		io:        make(chan struct{}, 1),
		d:         newDispatcher(),
		log:       zerolog.Nop(),
	}
	t.SetOnReceived(l.d.notify)
	l.unsubscribe = config.Subscribe(l.configChanged)
	return l
}

// Config returns the configuration the link observes.
func (l *Link) Config() *LinkConfig {
	return l.config
}

// IsOpen reports whether the link is open.
func (l *Link) IsOpen() bool {
	return l.isOpen.Load()
}

// SetLogger sets the logger. Links log nothing by default.
func (l *Link) SetLogger(logger zerolog.Logger) {
	l.hmu.Lock()
	l.log = logger
	l.hmu.Unlock()
}

func (l *Link) logger() *zerolog.Logger {
	l.hmu.RLock()
	log := l.log
	l.hmu.RUnlock()
	return &log
}

// SetOnReceived sets the text frame handler.
func (l *Link) SetOnReceived(value ReceivedHandler) {
	l.hmu.Lock()
	l.onReceived = value
	l.hmu.Unlock()
}

// SetOnError sets the error handler.
func (l *Link) SetOnError(value ErrorHandler) {
	l.hmu.Lock()
	l.onError = value
	l.hmu.Unlock()
}

// SetOnStateChange sets the state handler.
func (l *Link) SetOnStateChange(value StateHandler) {
	l.hmu.Lock()
	l.onState = value
	l.hmu.Unlock()
}

func (l *Link) receivef(payload string) {
	l.hmu.RLock()
	cb := l.onReceived
	l.hmu.RUnlock()
	if cb != nil {
		cb(l, payload)
	}
}

func (l *Link) errorf(err error) {
	l.hmu.RLock()
	cb := l.onError
	l.hmu.RUnlock()
	if cb != nil {
		cb(l, err)
	}
}

func (l *Link) statef(state gxcommon.MediaState) {
	l.hmu.RLock()
	cb := l.onState
	l.hmu.RUnlock()
	if cb != nil {
		cb(l, state)
	}
}

// Open applies the whole configuration to the transport, opens it and starts
// receiving. A failed open leaves the link closed and Open can be retried.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed.Load() {
		return ErrDisposed
	}
	if l.isOpen.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	port := l.config.PortName()
	log := l.logger().With().Str("port", port).Logger()
	l.statef(gxcommon.MediaStateOpening)
	err := l.openTransport(port)
	if err != nil {
		log.Error().Err(err).Msg("open failed")
		l.statef(gxcommon.MediaStateClosed)
		return err
	}
	l.isOpen.Store(true)
	l.d.start(l.receiver)
	log.Info().Stringer("config", l.config).Msg("link open")
	l.statef(gxcommon.MediaStateOpen)
	return nil
}

func (l *Link) openTransport(port string) error {
	for _, f := range Fields {
		if err := l.apply(f); err != nil {
			return &TransportOpenError{Port: port, Err: fmt.Errorf("apply %s: %w", f, err)}
		}
	}
	if err := l.applySignals(); err != nil {
		return &TransportOpenError{Port: port, Err: err}
	}
	if err := l.transport.Open(); err != nil {
		var openErr *TransportOpenError
		if errors.As(err, &openErr) {
			return err
		}
		return &TransportOpenError{Port: port, Err: err}
	}
	return nil
}

// Close stops receiving and closes the transport. The link can be opened again.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.close()
}

// close stops the receiver before the transport is closed and waits for it
// after, so a receiver blocked behind a pending write or ping is released.
func (l *Link) close() error {
	l.isOpen.Store(false)
	l.d.cancel()
	if !l.transport.IsOpen() {
		l.d.wait()
		return nil
	}
	l.statef(gxcommon.MediaStateClosing)
	err := l.transport.Close()
	l.d.wait()
	l.logger().Info().Str("port", l.config.PortName()).Msg("link closed")
	l.statef(gxcommon.MediaStateClosed)
	return err
}

// Dispose stops observing the configuration and closes the link.
// It is safe to call more than once and after a failed Open.
func (l *Link) Dispose() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.disposed.CompareAndSwap(false, true) {
		return nil
	}
	l.unsubscribe()
	return l.close()
}

// WriteLine sends text as a text frame. It blocks on the DtrDsr handshake and
// on the transport write timeout.
func (l *Link) WriteLine(ctx context.Context, text string) error {
	if !l.isOpen.Load() {
		return ErrNotOpen
	}
	if err := l.lockIO(ctx); err != nil {
		return err
	}
	defer l.unlockIO()
	return l.send(ctx, TextFrame(text))
}

// lockIO takes the write critical section or fails when ctx is done first.
func (l *Link) lockIO(ctx context.Context) error {
	select {
	case l.io <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) unlockIO() {
	<-l.io
}

// send gates the frame on the handshake and writes it. Caller must hold io.
func (l *Link) send(ctx context.Context, f Frame) error {
	c := l.config.Snapshot()
	if c.FlowControl == FlowControlDtrDsr {
		if err := waitRemoteReady(ctx, l.transport, toDuration(c.WriteTimeout)); err != nil {
			return err
		}
	}
	if err := l.transport.Write(ctx, EncodeFrame(f, c.Terminator)); err != nil {
		return wrapIO("write", err)
	}
	return nil
}

// RemoteReady reports the remote ready signal of the transport.
func (l *Link) RemoteReady() (bool, error) {
	return l.transport.RemoteReady()
}

func (l *Link) configChanged(c *LinkConfig, field Field) {
	err := l.apply(field)
	if err == nil && field == FieldFlowControl && l.isOpen.Load() {
		err = l.applySignals()
	}
	if err != nil {
		err = fmt.Errorf("apply %s: %w", field, err)
		l.logger().Warn().Err(err).Stringer("field", field).Msg("config change not applied")
		l.errorf(err)
		return
	}
	l.logger().Debug().Stringer("field", field).Msg("config change applied")
}

// apply pushes one config field to the transport.
func (l *Link) apply(field Field) error {
	c := l.config
	t := l.transport
	switch field {
	case FieldPortName:
		return t.SetPortName(c.PortName())
	case FieldBaudRate:
		return t.SetBaudRate(c.BaudRate())
	case FieldDataBits:
		return t.SetDataBits(c.DataBits())
	case FieldParity:
		return t.SetParity(c.Parity())
	case FieldStopBits:
		return t.SetStopBits(c.StopBits())
	case FieldFlowControl:
		return t.SetHandshake(c.FlowControl())
	case FieldTerminator:
		return t.SetTerminator(c.Terminator())
	case FieldReadTimeout:
		return t.SetReadTimeout(toDuration(c.ReadTimeout()))
	case FieldWriteTimeout:
		return t.SetWriteTimeout(toDuration(c.WriteTimeout()))
	}
	return nil
}

// applySignals sets the signal defaults of the flow control mode. With DtrDsr
// this end announces it is ready to receive. Other modes don't touch the signal.
func (l *Link) applySignals() error {
	if l.config.FlowControl() == FlowControlDtrDsr {
		return l.transport.SetLocalReady(true)
	}
	return nil
}
