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
)

// FrameKind tags a frame.
type FrameKind int

const (
	// FrameText carries a text payload.
	FrameText FrameKind = iota
	// FrameProbe is the ping probe. It has no payload.
	FrameProbe
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "Text"
	case FrameProbe:
		return "Probe"
	}
	return "Unknown"
}

// Header literals. These are the three characters backslash, letter, backslash.
var (
	textHeader  = []byte(`\t\`)
	probeHeader = []byte(`\p\`)
)

// Frame is one protocol unit exchanged as a single line.
type Frame struct {
	Kind    FrameKind
	Payload string
}

// TextFrame returns a text frame.
func TextFrame(payload string) Frame {
	return Frame{Kind: FrameText, Payload: payload}
}

// ProbeFrame returns a probe frame.
func ProbeFrame() Frame {
	return Frame{Kind: FrameProbe}
}

// EncodeFrame returns the wire form of the frame: header, payload and terminator.
// Unknown kinds are encoded as text.
func EncodeFrame(f Frame, terminator string) []byte {
	var b bytes.Buffer
	switch f.Kind {
	case FrameProbe:
		b.Grow(len(probeHeader) + len(terminator))
		b.Write(probeHeader)
	default:
		b.Grow(len(textHeader) + len(f.Payload) + len(terminator))
		b.Write(textHeader)
		b.WriteString(f.Payload)
	}
	b.WriteString(terminator)
	return b.Bytes()
}

// DecodeFrame decodes a line that has already been split at the terminator.
func DecodeFrame(line []byte) (Frame, error) {
	switch {
	case bytes.HasPrefix(line, textHeader):
		return TextFrame(string(line[len(textHeader):])), nil
	case bytes.HasPrefix(line, probeHeader):
		if len(line) != len(probeHeader) {
			return Frame{}, &ProtocolFramingError{Line: bytes.Clone(line), Reason: "probe with payload"}
		}
		return ProbeFrame(), nil
	}
	return Frame{}, &ProtocolFramingError{Line: bytes.Clone(line), Reason: "unknown header"}
}
