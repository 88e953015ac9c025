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
	"strconv"
	"strings"

	"github.com/Gurux/gxcommon-go"
)

// BaudRate is one of the standard line speeds a link can be configured to.
type BaudRate int

const (
	BaudRate150    BaudRate = 150
	BaudRate300    BaudRate = 300
	BaudRate600    BaudRate = 600
	BaudRate1200   BaudRate = 1200
	BaudRate1800   BaudRate = 1800
	BaudRate2400   BaudRate = 2400
	BaudRate4800   BaudRate = 4800
	BaudRate7200   BaudRate = 7200
	BaudRate9600   BaudRate = 9600
	BaudRate14400  BaudRate = 14400
	BaudRate19200  BaudRate = 19200
	BaudRate31250  BaudRate = 31250
	BaudRate38400  BaudRate = 38400
	BaudRate56000  BaudRate = 56000
	BaudRate57600  BaudRate = 57600
	BaudRate76800  BaudRate = 76800
	BaudRate115200 BaudRate = 115200
)

// BaudRates lists every accepted baud rate in ascending order.
var BaudRates = []BaudRate{
	BaudRate150, BaudRate300, BaudRate600, BaudRate1200, BaudRate1800,
	BaudRate2400, BaudRate4800, BaudRate7200, BaudRate9600, BaudRate14400,
	BaudRate19200, BaudRate31250, BaudRate38400, BaudRate56000, BaudRate57600,
	BaudRate76800, BaudRate115200,
}

// Valid reports whether the baud rate is one of BaudRates.
func (b BaudRate) Valid() bool {
	for _, v := range BaudRates {
		if v == b {
			return true
		}
	}
	return false
}

func (b BaudRate) String() string {
	return strconv.Itoa(int(b))
}

// ParseBaudRate parses a decimal baud rate.
func ParseBaudRate(value string) (BaudRate, error) {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid baud rate %q: %w", value, err)
	}
	b := BaudRate(v)
	if !b.Valid() {
		return 0, fmt.Errorf("unsupported baud rate: %d", v)
	}
	return b, nil
}

// Parity is the parity checking mode of the line.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "None"
	case ParityEven:
		return "Even"
	case ParityOdd:
		return "Odd"
	}
	return "Parity(" + strconv.Itoa(int(p)) + ")"
}

// Valid reports whether p is a known parity.
func (p Parity) Valid() bool {
	return p >= ParityNone && p <= ParityOdd
}

// ParseParity parses parity name. Parsing is case-insensitive.
func ParseParity(value string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none":
		return ParityNone, nil
	case "even":
		return ParityEven, nil
	case "odd":
		return ParityOdd, nil
	}
	return 0, fmt.Errorf("invalid parity: %q", value)
}

// StopBits is the number of stop bits.
type StopBits int

const (
	StopBitsNone StopBits = iota
	StopBitsOne
	StopBitsTwo
)

func (s StopBits) String() string {
	switch s {
	case StopBitsNone:
		return "None"
	case StopBitsOne:
		return "One"
	case StopBitsTwo:
		return "Two"
	}
	return "StopBits(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is a known stop bits value.
func (s StopBits) Valid() bool {
	return s >= StopBitsNone && s <= StopBitsTwo
}

// ParseStopBits parses stop bits name or count.
func ParseStopBits(value string) (StopBits, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none", "0":
		return StopBitsNone, nil
	case "one", "1":
		return StopBitsOne, nil
	case "two", "2":
		return StopBitsTwo, nil
	}
	return 0, fmt.Errorf("invalid stop bits: %q", value)
}

// FlowControl selects how writes are gated.
type FlowControl int

const (
	// FlowControlNone writes without any handshake.
	FlowControlNone FlowControl = iota
	// FlowControlRtsCts uses hardware RTS/CTS flow control of the transport.
	FlowControlRtsCts
	// FlowControlDtrDsr polls the remote ready signal before every write.
	FlowControlDtrDsr
	// FlowControlSoftware uses XON/XOFF flow control of the transport.
	FlowControlSoftware
)

func (f FlowControl) String() string {
	switch f {
	case FlowControlNone:
		return "None"
	case FlowControlRtsCts:
		return "RtsCts"
	case FlowControlDtrDsr:
		return "DtrDsr"
	case FlowControlSoftware:
		return "Software"
	}
	return "FlowControl(" + strconv.Itoa(int(f)) + ")"
}

// Valid reports whether f is a known flow control mode.
func (f FlowControl) Valid() bool {
	return f >= FlowControlNone && f <= FlowControlSoftware
}

// ParseFlowControl parses flow control name.
func ParseFlowControl(value string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none":
		return FlowControlNone, nil
	case "rtscts":
		return FlowControlRtsCts, nil
	case "dtrdsr":
		return FlowControlDtrDsr, nil
	case "software", "xonxoff":
		return FlowControlSoftware, nil
	}
	return 0, fmt.Errorf("invalid flow control: %q", value)
}

// handshake is the flow control the serial port itself performs.
type handshake int

const (
	handshakeNone handshake = iota
	handshakeRequestToSend
	handshakeXOnXOff
)

// toHandshake maps the link flow control to the port handshake.
// DtrDsr is polled by the link and the port runs without handshake.
func toHandshake(value FlowControl) handshake {
	switch value {
	case FlowControlRtsCts:
		return handshakeRequestToSend
	case FlowControlSoftware:
		return handshakeXOnXOff
	default:
		return handshakeNone
	}
}

func toGXParity(value Parity) gxcommon.Parity {
	switch value {
	case ParityEven:
		return gxcommon.ParityEven
	case ParityOdd:
		return gxcommon.ParityOdd
	default:
		return gxcommon.ParityNone
	}
}

// toGXStopBits maps the stop bits. Serial ports can't run without a
// stop bit, so None is sent as one stop bit.
func toGXStopBits(value StopBits) gxcommon.StopBits {
	if value == StopBitsTwo {
		return gxcommon.StopBitsTwo
	}
	return gxcommon.StopBitsOne
}
