//go:build linux

package gxlink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/sys/unix"
)

// toUnixBaudRate maps a baud rate to the corresponding constant in the unix package.
var toUnixBaudRate = map[int]uint32{
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
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// getPortNames returns a list of available serial port device paths on Linux.
func getPortNames() ([]string, error) {
	patterns := []string{
		"/dev/ttyS*",
		"/dev/ttyUSB*",
		"/dev/ttyXRUSB*",
		"/dev/ttyACM*",
		"/dev/ttyAMA*",
		"/dev/rfcomm*",
		"/dev/ttyAP*",
	}

	var devices []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, device := range matches {
			name := filepath.Base(device)
			sysPath := filepath.Join("/sys/class/tty", name, "device")

			if _, err := os.Stat(sysPath); err == nil {
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
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed
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
		// No parity: parity bit off, no parity checking
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

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		cfg.s.close()
		return err
	}
	// Raw mode
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

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		cfg.s.close()
		return err
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
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

func (p *port) getTermios() (*unix.Termios, error) {
	if err := p.ensureOpen(); err != nil {
		return nil, err
	}
	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("tcgetattr failed: %w", err)
	}
	return t, nil
}

func (p *port) setTermios(value *unix.Termios) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, value); err != nil {
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

func (p *port) getBytesToRead() (int, error) {
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	n, err := unix.IoctlGetInt(p.fd, unix.TIOCINQ)
	if err != nil {
		return 0, fmt.Errorf("getBytesToRead failed: %w", err)
	}
	return n, nil
}
