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
	"time"

	"github.com/Gurux/gxcommon-go"
	"go.uber.org/atomic"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// TraceHandler receives trace messages of a serial transport.
type TraceHandler func(t *SerialTransport, e gxcommon.TraceEventArgs)

// MediaStateHandler receives media state changes of a serial transport.
type MediaStateHandler func(t *SerialTransport, e gxcommon.MediaStateEventArgs)

// SerialTransport is a Transport on a serial port.
type SerialTransport struct {
	port         string
	baudRate     gxcommon.BaudRate
	dataBits     int
	stopBits     gxcommon.StopBits
	parity       gxcommon.Parity
	handshake    handshake
	dtr          bool
	dtrSet       bool
	readTimeout  time.Duration
	writeTimeout time.Duration
	// The trace level specifies which types of trace messages are emitted.
	traceLevel gxcommon.TraceLevel

	mu sync.RWMutex
	wg sync.WaitGroup
	// wmu serializes writes.
	wmu  sync.Mutex
	stop chan struct{}

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	//Called when the media state is changed.
	onState MediaStateHandler
	//Called when a line or a receive error is available.
	onReceived func()
	//Called when the media is sending or receiving data.
	onTrace TraceHandler

	received *lineBuffer
	s        port
	// Printer for localized messages.
	p *message.Printer
}

// NewSerialTransport returns a closed serial transport with 9600 8N1 settings.
func NewSerialTransport() *SerialTransport {
	t := &SerialTransport{
		baudRate:     gxcommon.BaudRate(BaudRate9600),
		dataBits:     8,
		stopBits:     gxcommon.StopBitsOne,
		parity:       gxcommon.ParityNone,
		readTimeout:  -1,
		writeTimeout: -1,
		received:     newLineBuffer("\n"),
	}
	t.Localize(language.AmericanEnglish)
	return t
}

// EnumeratePorts returns the serial ports of the system.
func EnumeratePorts() ([]string, error) {
	return getPortNames()
}

// Localize messages for the specified language.
// No errors is returned if language is not supported.
func (t *SerialTransport) Localize(language language.Tag) {
	t.mu.Lock()
	t.p = message.NewPrinter(language)
	t.mu.Unlock()
}

func (t *SerialTransport) printer() *message.Printer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.p
}

// String implements fmt.Stringer.
func (t *SerialTransport) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fmt.Sprintf("%s %d %d %d %d", t.port, t.baudRate, t.dataBits, t.stopBits, t.parity)
}

// PortName returns the port name.
func (t *SerialTransport) PortName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.port
}

// SetPortName sets the port name. A new name is used on the next Open.
func (t *SerialTransport) SetPortName(name string) error {
	t.mu.Lock()
	t.port = name
	t.mu.Unlock()
	return nil
}

// SetBaudRate sets the used baud rate.
func (t *SerialTransport) SetBaudRate(value BaudRate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.baudRate = gxcommon.BaudRate(value)
	if t.s.isOpen() {
		return t.s.setBaudRate(t.baudRate)
	}
	return nil
}

// SetDataBits sets the amount of the data bits.
func (t *SerialTransport) SetDataBits(value int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dataBits = value
	if t.s.isOpen() {
		return t.s.setDataBits(value)
	}
	return nil
}

// SetParity sets the used parity.
func (t *SerialTransport) SetParity(value Parity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parity = toGXParity(value)
	if t.s.isOpen() {
		return t.s.setParity(t.parity)
	}
	return nil
}

// SetStopBits sets the used stop bits.
func (t *SerialTransport) SetStopBits(value StopBits) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopBits = toGXStopBits(value)
	if t.s.isOpen() {
		return t.s.setStopBits(t.stopBits)
	}
	return nil
}

// SetHandshake sets the flow control the port performs.
// DtrDsr runs the port without handshake.
func (t *SerialTransport) SetHandshake(value FlowControl) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handshake = toHandshake(value)
	if t.s.isOpen() {
		return t.s.setHandshake(t.handshake)
	}
	return nil
}

// SetTerminator sets the line terminator.
func (t *SerialTransport) SetTerminator(value string) error {
	t.received.SetTerminator(value)
	return nil
}

// SetReadTimeout sets the read timeout. A negative value disables it.
func (t *SerialTransport) SetReadTimeout(value time.Duration) error {
	t.mu.Lock()
	t.readTimeout = value
	t.mu.Unlock()
	return nil
}

// SetWriteTimeout sets the write timeout. A negative value disables it.
func (t *SerialTransport) SetWriteTimeout(value time.Duration) error {
	t.mu.Lock()
	t.writeTimeout = value
	t.mu.Unlock()
	return nil
}

// SetLocalReady sets the DTR signal.
func (t *SerialTransport) SetLocalReady(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dtr = on
	t.dtrSet = true
	if t.s.isOpen() {
		return t.s.setDtrEnable(on)
	}
	return nil
}

// LocalReady returns the DTR signal state.
func (t *SerialTransport) LocalReady() (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.s.isOpen() {
		return t.dtr, nil
	}
	return t.s.getDtrEnable()
}

// RemoteReady returns the DSR signal state.
func (t *SerialTransport) RemoteReady() (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.s.isOpen() {
		return false, ErrNotOpen
	}
	return t.s.getDsrEnable()
}

// IsOpen reports whether the port is open.
func (t *SerialTransport) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s.isOpen()
}

// BytesSent returns the amount of sent bytes.
func (t *SerialTransport) BytesSent() uint64 {
	return t.bytesSent.Load()
}

// BytesReceived returns the amount of received bytes.
func (t *SerialTransport) BytesReceived() uint64 {
	return t.bytesReceived.Load()
}

// ResetByteCounters resets the sent and received byte counters.
func (t *SerialTransport) ResetByteCounters() {
	t.bytesSent.Store(0)
	t.bytesReceived.Store(0)
}

// Trace returns the trace level.
func (t *SerialTransport) Trace() gxcommon.TraceLevel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.traceLevel
}

// SetTrace sets the trace level.
func (t *SerialTransport) SetTrace(traceLevel gxcommon.TraceLevel) {
	t.mu.Lock()
	t.traceLevel = traceLevel
	t.mu.Unlock()
}

// SetOnTrace sets the trace handler.
func (t *SerialTransport) SetOnTrace(value TraceHandler) {
	t.mu.Lock()
	t.onTrace = value
	t.mu.Unlock()
}

// SetOnMediaStateChange sets the media state handler.
func (t *SerialTransport) SetOnMediaStateChange(value MediaStateHandler) {
	t.mu.Lock()
	t.onState = value
	t.mu.Unlock()
}

// SetOnReceived implements Transport.
func (t *SerialTransport) SetOnReceived(fn func()) {
	t.mu.Lock()
	t.onReceived = fn
	t.mu.Unlock()
}

// Validate checks that a port is selected.
func (t *SerialTransport) Validate() error {
	if t.PortName() == "" {
		return errors.New(t.printer().Sprintf("msg.no_serial_port_selected"))
	}
	return nil
}

// Open opens the port and starts the receiver.
func (t *SerialTransport) Open() error {
	if err := t.Validate(); err != nil {
		return &TransportOpenError{Err: err}
	}
	if t.IsOpen() {
		return nil
	}
	name := t.PortName()
	p := t.printer()
	t.statef(gxcommon.MediaStateOpening)
	t.trace(gxcommon.TraceTypesInfo, p.Sprintf("msg.connecting_to", name))

	t.mu.Lock()
	err := openPort(t)
	if err == nil {
		t.received.Reset()
		t.stop = make(chan struct{})
		t.wg.Add(1)
		go t.reader(&t.s, t.stop)
	}
	t.mu.Unlock()

	if err != nil {
		t.trace(gxcommon.TraceTypesError, p.Sprintf("msg.connect_failed", name, err))
		t.statef(gxcommon.MediaStateClosed)
		return &TransportOpenError{Port: name, Err: err}
	}
	t.trace(gxcommon.TraceTypesInfo, p.Sprintf("msg.connected_to", name))
	t.statef(gxcommon.MediaStateOpen)
	return nil
}

// Close stops the receiver and closes the port. Blocked reads return ErrClosed.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	if !t.s.isOpen() {
		t.mu.Unlock()
		return nil
	}
	name := t.port
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()

	p := t.printer()
	t.trace(gxcommon.TraceTypesInfo, p.Sprintf("msg.closing_connection", name))
	t.statef(gxcommon.MediaStateClosing)
	close(stop)
	t.s.wakeup()
	t.wg.Wait()

	t.wmu.Lock()
	t.mu.Lock()
	err := t.s.close()
	t.mu.Unlock()
	t.wmu.Unlock()
	t.received.Close()

	t.trace(gxcommon.TraceTypesInfo, p.Sprintf("msg.connection_closed", name))
	t.statef(gxcommon.MediaStateClosed)
	return err
}

// Write writes data to the port. It blocks up to the write timeout or until ctx is done.
func (t *SerialTransport) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	t.mu.RLock()
	open := t.s.isOpen()
	timeout := t.writeTimeout
	t.mu.RUnlock()
	if !open {
		return ErrNotOpen
	}
	t.tracef(gxcommon.TraceTypesSent, "TX: %s", data)
	n, err := t.s.write(ctx, data, timeout)
	t.bytesSent.Add(uint64(n))
	if err != nil {
		t.tracef(gxcommon.TraceTypesError, "TX failed: %v", err)
		return err
	}
	return nil
}

// ReadLine returns the next received line without the terminator.
func (t *SerialTransport) ReadLine(ctx context.Context) ([]byte, error) {
	t.mu.RLock()
	open := t.s.isOpen()
	timeout := t.readTimeout
	t.mu.RUnlock()
	if !open {
		return nil, ErrNotOpen
	}
	return t.received.ReadLine(ctx, timeout)
}

// Pending implements Transport.
func (t *SerialTransport) Pending() bool {
	return t.received.Pending()
}

func (t *SerialTransport) handleData(data []byte) {
	t.bytesReceived.Add(uint64(len(data)))
	str, err := gxcommon.ToString(data)
	if err != nil {
		t.tracef(gxcommon.TraceTypesError, "RX failed: %v", err)
	} else {
		t.tracef(gxcommon.TraceTypesReceived, "RX: %s", str)
	}
	if t.received.Append(data) {
		t.notify()
	}
}

func (t *SerialTransport) reader(p *port, stop <-chan struct{}) {
	defer t.wg.Done()
	for {
		ret, err := p.read()
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			t.trace(gxcommon.TraceTypesError, t.printer().Sprintf("msg.connection_failed", err))
			t.received.Fail(err)
			t.notify()
			return
		}
		if len(ret) != 0 {
			t.handleData(ret)
		}
	}
}

func (t *SerialTransport) notify() {
	t.mu.RLock()
	cb := t.onReceived
	t.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (t *SerialTransport) tracef(traceType gxcommon.TraceTypes, fmtStr string, a ...any) {
	t.mu.RLock()
	trace := !(int(t.traceLevel) < int(traceType))
	cb := t.onTrace
	t.mu.RUnlock()
	if cb != nil && trace {
		cb(t, *gxcommon.NewTraceEventArgs(traceType, fmt.Sprintf(fmtStr, a...), ""))
	}
}

func (t *SerialTransport) trace(traceType gxcommon.TraceTypes, message string) {
	t.mu.RLock()
	trace := !(int(t.traceLevel) < int(traceType))
	cb := t.onTrace
	t.mu.RUnlock()
	if cb != nil && trace {
		cb(t, *gxcommon.NewTraceEventArgs(traceType, message, ""))
	}
}

func (t *SerialTransport) statef(state gxcommon.MediaState) {
	t.mu.RLock()
	cb := t.onState
	t.mu.RUnlock()
	if cb != nil {
		cb(t, *gxcommon.NewMediaStateEventArgs(state))
	}
}

//nolint:errcheck
func init() {
	// --- English (default) ---
	message.SetString(language.AmericanEnglish, "msg.closing_connection", "Closing connection to %s")
	message.SetString(language.AmericanEnglish, "msg.connection_closed", "Connection closed to %s")
	message.SetString(language.AmericanEnglish, "msg.connection_failed", "Connection failed: %v")
	message.SetString(language.AmericanEnglish, "msg.connected_to", "Connected to %s")
	message.SetString(language.AmericanEnglish, "msg.connect_failed", "connect to %s failed: %v")
	message.SetString(language.AmericanEnglish, "msg.connecting_to", "Connecting to %s")
	message.SetString(language.AmericanEnglish, "msg.no_serial_port_selected", "No serial port selected. Please select a serial port.")

	// --- German (de) ---
	message.SetString(language.German, "msg.closing_connection", "Verbindung zu %s wird geschlossen")
	message.SetString(language.German, "msg.connection_closed", "Verbindung zu %s wurde geschlossen")
	message.SetString(language.German, "msg.connection_failed", "Verbindung fehlgeschlagen: %v")
	message.SetString(language.German, "msg.connected_to", "Verbunden mit %s")
	message.SetString(language.German, "msg.connect_failed", "Verbindung zu %s fehlgeschlagen: %v")
	message.SetString(language.German, "msg.connecting_to", "Verbinde mit %s")
	message.SetString(language.German, "msg.no_serial_port_selected", "Kein serieller Port ausgewählt. Bitte wählen Sie einen seriellen Port aus.")

	// --- Finnish (fi) ---
	message.SetString(language.Finnish, "msg.closing_connection", "Suljetaan yhteys kohteeseen %s")
	message.SetString(language.Finnish, "msg.connection_closed", "Yhteys suljettu kohteeseen %s")
	message.SetString(language.Finnish, "msg.connection_failed", "Yhteyden muodostus epäonnistui: %v")
	message.SetString(language.Finnish, "msg.connected_to", "Yhdistetty kohteeseen %s")
	message.SetString(language.Finnish, "msg.connect_failed", "Yhteyden muodostus kohteeseen %s epäonnistui: %v")
	message.SetString(language.Finnish, "msg.connecting_to", "Yhdistetään kohteeseen %s")
	message.SetString(language.Finnish, "msg.no_serial_port_selected", "Sarjaporttia ei ole valittu. Valitse sarjaportti.")

	// --- Swedish (sv) ---
	message.SetString(language.Swedish, "msg.closing_connection", "Stänger anslutning till %s")
	message.SetString(language.Swedish, "msg.connection_closed", "Anslutning stängd till %s")
	message.SetString(language.Swedish, "msg.connection_failed", "Anslutningen misslyckades: %v")
	message.SetString(language.Swedish, "msg.connected_to", "Ansluten till %s")
	message.SetString(language.Swedish, "msg.connect_failed", "Anslutning till %s misslyckades: %v")
	message.SetString(language.Swedish, "msg.connecting_to", "Ansluter till %s")
	message.SetString(language.Swedish, "msg.no_serial_port_selected", "Ingen seriell port vald. Välj en seriell port.")
}
