//go:build darwin

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
	"os"
	"path/filepath"
	"unsafe"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/sys/unix"
)

// toUnixBaudRate maps a baud rate to the corresponding constant in the unix package.
var toUnixBaudRate = map[int]uint64{
	50:     unix.B50,
	75:     unix.B75,
	110:    unix.B110,
	134:    unix.B134,
	150:    unix.B150,
	200:    unix.B200,
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	1800:   unix.B1800,
	2400:   unix.B2400,
	4800:   unix.B4800,
	7200:   unix.B7200,
	9600:   unix.B9600,
	14400:  unix.B14400,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	76800:  unix.B76800,
	115200: unix.B115200,
	230400: unix.B230400,
}

// getPortNames returns a list of available serial port device paths on macOS.
func getPortNames() ([]string, error) {
	patterns := []string{
		"/dev/tty.*",
		"/dev/cu.*",
	}

	var devices []string
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, device := range matches {
			if _, ok := seen[device]; !ok {
				seen[device] = struct{}{}
				devices = append(devices, device)
			}
		}
	}
	return devices, nil
}

func setSpeed(t *unix.Termios, value gxcommon.BaudRate) error {
	speed, ok := toUnixBaudRate[int(value)]
	if !ok {
		return fmt.Errorf("unsupported baud rate: %d", value)
	}
	t.Ispeed = speed
	t.Ospeed = speed
	return nil
}

func setCharSize(t *unix.Termios, value int) error {
	t.Cflag &^= unix.CSIZE
	switch value {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	case 8:
		t.Cflag |= unix.CS8
	default:
		return fmt.Errorf("invalid databits: %d (must be 5..8)", value)
	}
	return nil
}

func setStop(t *unix.Termios, value gxcommon.StopBits) error {
	switch value {
	case gxcommon.StopBitsOne:
		t.Cflag &^= unix.CSTOPB
	case gxcommon.StopBitsTwo:
		t.Cflag |= unix.CSTOPB
	default:
		return fmt.Errorf("invalid stop bits: %d", value)
	}
	return nil
}

func setParityFlags(t *unix.Termios, value gxcommon.Parity) error {
	t.Iflag &^= unix.INPCK | unix.ISTRIP
	t.Cflag &^= unix.PARENB | unix.PARODD
	switch value {
	case gxcommon.ParityNone:
		// nothing
	case gxcommon.ParityEven:
		t.Cflag |= unix.PARENB
		t.Iflag |= unix.INPCK
	case gxcommon.ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
		t.Iflag |= unix.INPCK
	default:
		return fmt.Errorf("invalid parity: %d", value)
	}
	return nil
}

func setHandshakeFlags(t *unix.Termios, value handshake) {
	t.Iflag &^= unix.IXON | unix.IXOFF
	t.Cflag &^= unix.CRTSCTS
	switch value {
	case handshakeRequestToSend:
		t.Cflag |= unix.CRTSCTS
	case handshakeXOnXOff:
		t.Iflag |= unix.IXON | unix.IXOFF
	}
}

// openPort opens the port of cfg. Caller holds cfg.mu.
func openPort(cfg *SerialTransport) error {
	fd, err := unix.Open(cfg.port, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0666)
	if err != nil {
		return err
	}

	f := os.NewFile(uintptr(fd), cfg.port)
	cfg.s = port{f: f, fd: fd}

	t, err := unix.IoctlGetTermios(fd, unix.TIOCGETA)
	if err != nil {
		cfg.s.close()
		return err
	}
	t.Cflag |= unix.CLOCAL | unix.CREAD
	t.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL | unix.ISIG | unix.IEXTEN
	t.Oflag &^= unix.OPOST | unix.ONLCR | unix.OCRNL
	t.Iflag &^= unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IGNBRK | unix.BRKINT | unix.PARMRK
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	for _, err = range []error{
		setSpeed(t, cfg.baudRate),
		setCharSize(t, cfg.dataBits),
		setStop(t, cfg.stopBits),
		setParityFlags(t, cfg.parity),
	} {
		if err != nil {
			cfg.s.close()
			return err
		}
	}
	setHandshakeFlags(t, cfg.handshake)

	if err := unix.IoctlSetTermios(fd, unix.TIOCSETA, t); err != nil {
		cfg.s.close()
		return err
	}
	if err := ioctlSetIntPointer(fd, unix.TIOCFLUSH, unix.TCIOFLUSH); err != nil {
		cfg.s.close()
		return err
	}
	if cfg.dtrSet {
		if err := cfg.s.setDtrEnable(cfg.dtr); err != nil {
			cfg.s.close()
			return err
		}
	}
	if err := cfg.s.openPipe(); err != nil {
		cfg.s.close()
		return err
	}
	return nil
}

func ioctlSetIntPointer(fd int, req uint, value int) error {
	v := value
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return errno
	}
	return nil
}

func (p *port) getTermios() (*unix.Termios, error) {
	if err := p.ensureOpen(); err != nil {
		return nil, err
	}
	t, err := unix.IoctlGetTermios(p.fd, unix.TIOCGETA)
	if err != nil {
		return nil, fmt.Errorf("tcgetattr failed: %w", err)
	}
	return t, nil
}

func (p *port) setTermios(value *unix.Termios) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	if err := unix.IoctlSetTermios(p.fd, unix.TIOCSETA, value); err != nil {
		return fmt.Errorf("tcsetattr failed: %w", err)
	}
	return nil
}

// updateTermios reads the settings, changes them with fn and writes them back.
func (p *port) updateTermios(name string, fn func(t *unix.Termios) error) error {
	t, err := p.getTermios()
	if err != nil {
		return fmt.Errorf("%s failed. %w", name, err)
	}
	if err := fn(t); err != nil {
		return fmt.Errorf("%s failed. %w", name, err)
	}
	return p.setTermios(t)
}

func (p *port) setBaudRate(value gxcommon.BaudRate) error {
	return p.updateTermios("setBaudRate", func(t *unix.Termios) error {
		return setSpeed(t, value)
	})
}

func (p *port) setDataBits(value int) error {
	return p.updateTermios("setDataBits", func(t *unix.Termios) error {
		return setCharSize(t, value)
	})
}

func (p *port) setParity(value gxcommon.Parity) error {
	return p.updateTermios("setParity", func(t *unix.Termios) error {
		return setParityFlags(t, value)
	})
}

func (p *port) setStopBits(value gxcommon.StopBits) error {
	return p.updateTermios("setStopBits", func(t *unix.Termios) error {
		return setStop(t, value)
	})
}

func (p *port) setHandshake(value handshake) error {
	return p.updateTermios("setHandshake", func(t *unix.Termios) error {
		setHandshakeFlags(t, value)
		return nil
	})
}

// getBytesToRead reports 1 when data is waiting. macOS has no TIOCINQ.
func (p *port) getBytesToRead() (int, error) {
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	pfds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	_, err := unix.Poll(pfds, 0)
	if err != nil {
		return 0, fmt.Errorf("getBytesToRead failed: %w", err)
	}
	if (pfds[0].Revents & unix.POLLIN) != 0 {
		return 1, nil
	}
	return 0, nil
}
