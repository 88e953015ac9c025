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
	"fmt"
	"sort"
	"sync"
)

// NoTimeout disables read or write timeout.
const NoTimeout = -1

// Field identifies one LinkConfig field in change notifications.
type Field int

const (
	FieldPortName Field = iota
	FieldBaudRate
	FieldDataBits
	FieldParity
	FieldStopBits
	FieldFlowControl
	FieldTerminator
	FieldReadTimeout
	FieldWriteTimeout
)

// Fields lists all fields in the order they are applied to a transport.
var Fields = []Field{
	FieldPortName, FieldBaudRate, FieldDataBits, FieldParity, FieldStopBits,
	FieldFlowControl, FieldTerminator, FieldReadTimeout, FieldWriteTimeout,
}

var fieldNames = map[Field]string{
	FieldPortName:     "PortName",
	FieldBaudRate:     "BaudRate",
	FieldDataBits:     "DataBits",
	FieldParity:       "Parity",
	FieldStopBits:     "StopBits",
	FieldFlowControl:  "FlowControl",
	FieldTerminator:   "Terminator",
	FieldReadTimeout:  "ReadTimeout",
	FieldWriteTimeout: "WriteTimeout",
}

func (f Field) String() string {
	if s, ok := fieldNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// ConfigObserver is called after a field has been changed.
type ConfigObserver func(c *LinkConfig, field Field)

// LinkConfig holds the link parameters. Setters validate the value before
// it is stored and notify observers after a successful change.
type LinkConfig struct {
	mu           sync.RWMutex
	portName     string
	baudRate     BaudRate
	dataBits     int
	parity       Parity
	stopBits     StopBits
	flowControl  FlowControl
	terminator   string
	readTimeout  int
	writeTimeout int

	omu       sync.Mutex
	observers map[int]ConfigObserver
	nextID    int
}

// ConfigSnapshot is a consistent copy of all LinkConfig fields.
type ConfigSnapshot struct {
	PortName     string
	BaudRate     BaudRate
	DataBits     int
	Parity       Parity
	StopBits     StopBits
	FlowControl  FlowControl
	Terminator   string
	ReadTimeout  int
	WriteTimeout int
}

// NewLinkConfig returns configuration with default settings for the given port:
// 9600 8N1, no flow control, "\n" terminator and no timeouts.
func NewLinkConfig(portName string) *LinkConfig {
	return &LinkConfig{
		portName:     portName,
		baudRate:     BaudRate9600,
		dataBits:     8,
		parity:       ParityNone,
		stopBits:     StopBitsOne,
		flowControl:  FlowControlNone,
		terminator:   "\n",
		readTimeout:  NoTimeout,
		writeTimeout: NoTimeout,
		observers:    map[int]ConfigObserver{},
	}
}

// Subscribe registers an observer for field changes. The returned function
// removes the observer and can be called more than once.
func (c *LinkConfig) Subscribe(observer ConfigObserver) (unsubscribe func()) {
	c.omu.Lock()
	if c.observers == nil {
		c.observers = map[int]ConfigObserver{}
	}
	id := c.nextID
	c.nextID++
	c.observers[id] = observer
	c.omu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.omu.Lock()
			delete(c.observers, id)
			c.omu.Unlock()
		})
	}
}

// notify calls observers in subscription order.
func (c *LinkConfig) notify(field Field) {
	c.omu.Lock()
	ids := make([]int, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	list := make([]ConfigObserver, 0, len(ids))
	for _, id := range ids {
		list = append(list, c.observers[id])
	}
	c.omu.Unlock()
	for _, o := range list {
		o(c, field)
	}
}

// PortName returns the port name.
func (c *LinkConfig) PortName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.portName
}

// SetPortName sets the port name.
func (c *LinkConfig) SetPortName(value string) error {
	c.mu.Lock()
	if c.portName == value {
		c.mu.Unlock()
		return nil
	}
	c.portName = value
	c.mu.Unlock()
	c.notify(FieldPortName)
	return nil
}

// BaudRate returns the baud rate.
func (c *LinkConfig) BaudRate() BaudRate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baudRate
}

// SetBaudRate sets the baud rate. Only values of BaudRates are accepted.
func (c *LinkConfig) SetBaudRate(value BaudRate) error {
	if !value.Valid() {
		return &ValidationError{Field: FieldBaudRate, Value: value, Reason: "unsupported baud rate"}
	}
	c.mu.Lock()
	if c.baudRate == value {
		c.mu.Unlock()
		return nil
	}
	c.baudRate = value
	c.mu.Unlock()
	c.notify(FieldBaudRate)
	return nil
}

// DataBits returns the amount of the data bits.
func (c *LinkConfig) DataBits() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataBits
}

// SetDataBits sets the amount of the data bits (5..8).
func (c *LinkConfig) SetDataBits(value int) error {
	if value < 5 || value > 8 {
		return &ValidationError{Field: FieldDataBits, Value: value, Reason: "must be 5..8"}
	}
	c.mu.Lock()
	if c.dataBits == value {
		c.mu.Unlock()
		return nil
	}
	c.dataBits = value
	c.mu.Unlock()
	c.notify(FieldDataBits)
	return nil
}

// Parity returns used parity.
func (c *LinkConfig) Parity() Parity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parity
}

// SetParity sets the used parity.
func (c *LinkConfig) SetParity(value Parity) error {
	if !value.Valid() {
		return &ValidationError{Field: FieldParity, Value: value, Reason: "unknown parity"}
	}
	c.mu.Lock()
	if c.parity == value {
		c.mu.Unlock()
		return nil
	}
	c.parity = value
	c.mu.Unlock()
	c.notify(FieldParity)
	return nil
}

// StopBits returns used stop bits.
func (c *LinkConfig) StopBits() StopBits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopBits
}

// SetStopBits sets the used stop bits.
func (c *LinkConfig) SetStopBits(value StopBits) error {
	if !value.Valid() {
		return &ValidationError{Field: FieldStopBits, Value: value, Reason: "unknown stop bits"}
	}
	c.mu.Lock()
	if c.stopBits == value {
		c.mu.Unlock()
		return nil
	}
	c.stopBits = value
	c.mu.Unlock()
	c.notify(FieldStopBits)
	return nil
}

// FlowControl returns used flow control.
func (c *LinkConfig) FlowControl() FlowControl {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flowControl
}

// SetFlowControl sets the used flow control.
func (c *LinkConfig) SetFlowControl(value FlowControl) error {
	if !value.Valid() {
		return &ValidationError{Field: FieldFlowControl, Value: value, Reason: "unknown flow control"}
	}
	c.mu.Lock()
	if c.flowControl == value {
		c.mu.Unlock()
		return nil
	}
	c.flowControl = value
	c.mu.Unlock()
	c.notify(FieldFlowControl)
	return nil
}

// Terminator returns the line terminator.
func (c *LinkConfig) Terminator() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.terminator
}

// SetTerminator sets the line terminator. It must be one or two bytes long.
func (c *LinkConfig) SetTerminator(value string) error {
	if len(value) < 1 || len(value) > 2 {
		return &ValidationError{Field: FieldTerminator, Value: fmt.Sprintf("%q", value), Reason: "length must be 1..2"}
	}
	c.mu.Lock()
	if c.terminator == value {
		c.mu.Unlock()
		return nil
	}
	c.terminator = value
	c.mu.Unlock()
	c.notify(FieldTerminator)
	return nil
}

// ReadTimeout returns the read timeout in milliseconds or NoTimeout.
func (c *LinkConfig) ReadTimeout() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readTimeout
}

// SetReadTimeout sets the read timeout in milliseconds. Use NoTimeout to wait forever.
func (c *LinkConfig) SetReadTimeout(value int) error {
	if value < 0 && value != NoTimeout {
		return &ValidationError{Field: FieldReadTimeout, Value: value, Reason: "must be >= 0 or NoTimeout"}
	}
	c.mu.Lock()
	if c.readTimeout == value {
		c.mu.Unlock()
		return nil
	}
	c.readTimeout = value
	c.mu.Unlock()
	c.notify(FieldReadTimeout)
	return nil
}

// WriteTimeout returns the write timeout in milliseconds or NoTimeout.
func (c *LinkConfig) WriteTimeout() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writeTimeout
}

// SetWriteTimeout sets the write timeout in milliseconds. Use NoTimeout to wait forever.
// The write timeout also bounds the DtrDsr handshake.
func (c *LinkConfig) SetWriteTimeout(value int) error {
	if value < 0 && value != NoTimeout {
		return &ValidationError{Field: FieldWriteTimeout, Value: value, Reason: "must be >= 0 or NoTimeout"}
	}
	c.mu.Lock()
	if c.writeTimeout == value {
		c.mu.Unlock()
		return nil
	}
	c.writeTimeout = value
	c.mu.Unlock()
	c.notify(FieldWriteTimeout)
	return nil
}

// Set sets field from a value of the field's type.
// Timeouts accept an int of milliseconds.
func (c *LinkConfig) Set(field Field, value any) error {
	mismatch := &ValidationError{Field: field, Value: value, Reason: fmt.Sprintf("unexpected type %T", value)}
	switch field {
	case FieldPortName:
		if v, ok := value.(string); ok {
			return c.SetPortName(v)
		}
	case FieldBaudRate:
		switch v := value.(type) {
		case BaudRate:
			return c.SetBaudRate(v)
		case int:
			return c.SetBaudRate(BaudRate(v))
		}
	case FieldDataBits:
		if v, ok := value.(int); ok {
			return c.SetDataBits(v)
		}
	case FieldParity:
		if v, ok := value.(Parity); ok {
			return c.SetParity(v)
		}
	case FieldStopBits:
		if v, ok := value.(StopBits); ok {
			return c.SetStopBits(v)
		}
	case FieldFlowControl:
		if v, ok := value.(FlowControl); ok {
			return c.SetFlowControl(v)
		}
	case FieldTerminator:
		if v, ok := value.(string); ok {
			return c.SetTerminator(v)
		}
	case FieldReadTimeout:
		if v, ok := value.(int); ok {
			return c.SetReadTimeout(v)
		}
	case FieldWriteTimeout:
		if v, ok := value.(int); ok {
			return c.SetWriteTimeout(v)
		}
	default:
		mismatch.Reason = "unknown field"
	}
	return mismatch
}

// Snapshot returns a copy of all fields taken under a single lock.
func (c *LinkConfig) Snapshot() ConfigSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConfigSnapshot{
		PortName:     c.portName,
		BaudRate:     c.baudRate,
		DataBits:     c.dataBits,
		Parity:       c.parity,
		StopBits:     c.stopBits,
		FlowControl:  c.flowControl,
		Terminator:   c.terminator,
		ReadTimeout:  c.readTimeout,
		WriteTimeout: c.writeTimeout,
	}
}

// String implements fmt.Stringer.
func (c *LinkConfig) String() string {
	s := c.Snapshot()
	return fmt.Sprintf("%s %s %d %s %s %s", s.PortName, s.BaudRate, s.DataBits, s.Parity, s.StopBits, s.FlowControl)
}
