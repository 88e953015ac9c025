//go:build windows

package gxlink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

type port struct {
	h       windows.Handle
	ovRead  windows.Overlapped
	ovWrite windows.Overlapped
	closing windows.Handle
	dtr     bool
}

func (p *port) isOpen() bool {
	return p != nil && p.h != 0 && p.h != windows.InvalidHandle
}

// getPortNames retrieves the list of available serial port names on a Windows system by querying the registry.
func getPortNames() ([]string, error) {
	const path = `HARDWARE\DEVICEMAP\SERIALCOMM`

	key, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return []string{}, nil
		}
		return nil, err
	}
	defer func() {
		_ = key.Close()
	}()

	valueNames, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}

	var ports []string
	for _, name := range valueNames {
		port, _, err := key.GetStringValue(name)
		if err == nil {
			ports = append(ports, port)
		}
	}
	return ports, nil
}

const (
	dcbFBinary         = 1 << 0
	dcbFParity         = 1 << 1
	dcbFOutxCtsFlow    = 1 << 2
	dcbFOutX           = 1 << 8
	dcbFInX            = 1 << 9
	dcbFErrorChar      = 1 << 10
	dcbFNull           = 1 << 11
	dcbFAbortOnError   = 1 << 14
	dcbFDtrControlMask = 0x3 << 4  // bits 4-5
	dcbFRtsControlMask = 0x3 << 12 // bits 12-13
)

// XON/XOFF control characters
const (
	xon  byte = 0x11
	xoff byte = 0x13
)

// RTS/DTR control values (DCB 2-bit fields)
const (
	rtsControlDisable   uint32 = 0
	rtsControlHandshake uint32 = 2
	dtrControlDisable   uint32 = 0
)

// EscapeCommFunction codes and GetCommModemStatus bits.
const (
	escSetDtr uint32 = 5
	escClrDtr uint32 = 6
	msDsrOn   uint32 = 0x0020
	msDtrNone uint32 = 0
)

func setFlag(d *windows.DCB, flag uint32, on bool) {
	if on {
		d.Flags |= flag
	} else {
		d.Flags &^= flag
	}
}

func setRtsControl(d *windows.DCB, val uint32) {
	d.Flags &^= dcbFRtsControlMask
	d.Flags |= (val & 0x3) << 12
}

func setDtrControl(d *windows.DCB, val uint32) {
	d.Flags &^= dcbFDtrControlMask
	d.Flags |= (val & 0x3) << 4
}

func setHandshakeFlags(d *windows.DCB, value handshake) {
	setFlag(d, dcbFOutxCtsFlow, value == handshakeRequestToSend)
	setFlag(d, dcbFOutX, value == handshakeXOnXOff)
	setFlag(d, dcbFInX, value == handshakeXOnXOff)
	if value == handshakeRequestToSend {
		setRtsControl(d, rtsControlHandshake)
	} else {
		setRtsControl(d, rtsControlDisable)
	}
}

func toStopBits(value gxcommon.StopBits) (byte, error) {
	switch value {
	case gxcommon.StopBitsOne:
		return 0, nil // ONESTOPBIT
	case gxcommon.StopBitsTwo:
		return 2, nil // TWOSTOPBITS
	}
	return 0, gxcommon.ErrInvalidArgument
}

func (p *port) getCommState() (*windows.DCB, error) {
	if !p.isOpen() {
		return nil, errors.New("serial port is not open")
	}
	var d windows.DCB
	d.DCBlength = uint32(unsafe.Sizeof(d))
	if err := windows.GetCommState(p.h, &d); err != nil {
		return nil, fmt.Errorf("GetCommState failed: %w", err)
	}
	return &d, nil
}

func (p *port) setCommState(d *windows.DCB) error {
	if !p.isOpen() {
		return errors.New("serial port is not open")
	}
	if err := windows.SetCommState(p.h, d); err != nil {
		return fmt.Errorf("SetCommState failed: %w", err)
	}
	return nil
}

// updateCommState reads the settings, changes them with fn and writes them back.
func (p *port) updateCommState(fn func(d *windows.DCB) error) error {
	d, err := p.getCommState()
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		return err
	}
	return p.setCommState(d)
}

func (p *port) updateSettings(cfg *SerialTransport) error {
	return p.updateCommState(func(d *windows.DCB) error {
		stopBits, err := toStopBits(cfg.stopBits)
		if err != nil {
			return err
		}
		d.BaudRate = uint32(cfg.baudRate)
		d.ByteSize = byte(cfg.dataBits)
		d.Parity = byte(cfg.parity)
		d.StopBits = stopBits
		setFlag(d, dcbFParity, d.Parity != 0)
		setFlag(d, dcbFBinary, true)
		setFlag(d, dcbFNull, false)
		setFlag(d, dcbFErrorChar, false)
		setFlag(d, dcbFAbortOnError, false)
		d.XonChar = xon
		d.XoffChar = xoff
		setDtrControl(d, dtrControlDisable)
		setHandshakeFlags(d, cfg.handshake)
		return nil
	})
}

func (p *port) setBaudRate(value gxcommon.BaudRate) error {
	return p.updateCommState(func(d *windows.DCB) error {
		d.BaudRate = uint32(value)
		return nil
	})
}

func (p *port) setDataBits(value int) error {
	return p.updateCommState(func(d *windows.DCB) error {
		d.ByteSize = byte(value)
		return nil
	})
}

func (p *port) setStopBits(value gxcommon.StopBits) error {
	return p.updateCommState(func(d *windows.DCB) error {
		v, err := toStopBits(value)
		d.StopBits = v
		return err
	})
}

func (p *port) setParity(value gxcommon.Parity) error {
	return p.updateCommState(func(d *windows.DCB) error {
		d.Parity = byte(value)
		setFlag(d, dcbFParity, d.Parity != 0)
		return nil
	})
}

func (p *port) setHandshake(value handshake) error {
	return p.updateCommState(func(d *windows.DCB) error {
		setHandshakeFlags(d, value)
		return nil
	})
}

func (p *port) modemStatus() (uint32, error) {
	if !p.isOpen() {
		return msDtrNone, errors.New("serial port is not open")
	}
	var status uint32
	if err := windows.GetCommModemStatus(p.h, &status); err != nil {
		return msDtrNone, fmt.Errorf("GetCommModemStatus failed: %w", err)
	}
	return status, nil
}

func (p *port) getDsrEnable() (bool, error) {
	status, err := p.modemStatus()
	if err != nil {
		return false, err
	}
	return status&msDsrOn != 0, nil
}

// getDtrEnable returns the DTR state. Windows can't query it, so the
// state is read back from the last change request.
func (p *port) getDtrEnable() (bool, error) {
	if !p.isOpen() {
		return false, errors.New("serial port is not open")
	}
	return p.dtr, nil
}

func (p *port) setDtrEnable(on bool) error {
	if !p.isOpen() {
		return errors.New("serial port is not open")
	}
	fn := escClrDtr
	if on {
		fn = escSetDtr
	}
	if err := windows.EscapeCommFunction(p.h, fn); err != nil {
		return fmt.Errorf("EscapeCommFunction failed: %w", err)
	}
	p.dtr = on
	return nil
}

func openPort(cfg *SerialTransport) error {
	if strings.TrimSpace(cfg.port) == "" {
		return errors.New("invalid serial port name")
	}

	cfg.s = port{}

	closing, err := windows.CreateEvent(nil, 1, 1, nil) // manual-reset=TRUE, initial=TRUE
	if err != nil {
		return fmt.Errorf("CreateEvent(closing) failed: %w", err)
	}
	cfg.s.closing = closing

	path := `\\.\` + cfg.port
	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(path),
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		_ = cfg.s.close()
		return fmt.Errorf("failed to open port %q: %w", cfg.port, err)
	}
	cfg.s.h = h

	er, err := windows.CreateEvent(nil, 0, 0, nil) // auto-reset
	if err != nil {
		_ = cfg.s.close()
		return fmt.Errorf("CreateEvent(read) failed: %w", err)
	}
	cfg.s.ovRead.HEvent = er

	ew, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		_ = cfg.s.close()
		return fmt.Errorf("CreateEvent(write) failed: %w", err)
	}
	cfg.s.ovWrite.HEvent = ew

	if err := windows.ResetEvent(cfg.s.closing); err != nil {
		_ = cfg.s.close()
		return fmt.Errorf("ResetEvent(closing) failed: %w", err)
	}

	if err := cfg.s.updateSettings(cfg); err != nil {
		_ = cfg.s.close()
		return fmt.Errorf("failed to update serial port settings: %w", err)
	}

	if err := windows.PurgeComm(cfg.s.h,
		windows.PURGE_TXCLEAR|windows.PURGE_TXABORT|windows.PURGE_RXCLEAR|windows.PURGE_RXABORT,
	); err != nil {
		_ = cfg.s.close()
		return fmt.Errorf("PurgeComm failed: %w", err)
	}
	if cfg.dtrSet {
		if err := cfg.s.setDtrEnable(cfg.dtr); err != nil {
			_ = cfg.s.close()
			return err
		}
	}
	return nil
}

func (p *port) getBytesToRead() (int, error) {
	if !p.isOpen() {
		return 0, errors.New("serial port is not open")
	}
	var flags uint32
	var st windows.ComStat
	if err := windows.ClearCommError(p.h, &flags, &st); err != nil {
		if err != windows.ERROR_INVALID_HANDLE {
			return 0, fmt.Errorf("getBytesToRead failed: %w", err)
		}
		return 0, nil
	}
	return int(st.CBInQue), nil
}

// wakeup makes a blocked read return.
func (p *port) wakeup() {
	if p.closing != 0 {
		_ = windows.SetEvent(p.closing)
	}
	if p.isOpen() {
		_ = windows.CancelIoEx(p.h, nil)
	}
}

// read blocks until data is available or wakeup is called.
// It returns no data and no error when woken up.
func (p *port) read() ([]byte, error) {
	if p.closing == 0 {
		return nil, nil
	}
	if !p.isOpen() {
		return nil, errors.New("serial port is not open")
	}

	count, err := p.getBytesToRead()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		count = 1
	}

	buf := make([]byte, count)
	var n uint32
	_ = windows.ResetEvent(p.ovRead.HEvent)
	err = windows.ReadFile(p.h, buf, &n, &p.ovRead)
	if err == nil {
		return buf[:n], nil
	}
	if !errors.Is(err, windows.ERROR_IO_PENDING) {
		if p.isClosing() {
			return nil, nil
		}
		return nil, fmt.Errorf("read failed: %w", err)
	}
	handles := []windows.Handle{p.closing, p.ovRead.HEvent}
	idx, werr := windows.WaitForMultipleObjects(handles, false, windows.INFINITE)
	if werr != nil {
		if p.isClosing() {
			return nil, nil
		}
		return nil, fmt.Errorf("read wait failed: %w", werr)
	}
	if idx == windows.WAIT_OBJECT_0 {
		return nil, nil // closing
	}
	if gerr := windows.GetOverlappedResult(p.h, &p.ovRead, &n, true); gerr != nil {
		if errors.Is(gerr, windows.ERROR_OPERATION_ABORTED) || p.isClosing() {
			return nil, nil
		}
		return nil, fmt.Errorf("read failed: %w", gerr)
	}
	return buf[:n], nil
}

func (p *port) isClosing() bool {
	r, err := windows.WaitForSingleObject(p.closing, 0)
	return p.closing == 0 || r == windows.WAIT_OBJECT_0 && err == nil
}

// write writes data within timeout. A negative timeout waits until ctx is done.
func (p *port) write(ctx context.Context, data []byte, timeout time.Duration) (int, error) {
	if !p.isOpen() {
		return 0, errors.New("serial port is not open")
	}
	if len(data) == 0 {
		return 0, nil
	}

	var n uint32
	_ = windows.ResetEvent(p.ovWrite.HEvent)

	err := windows.WriteFile(p.h, data, &n, &p.ovWrite)
	if err == nil {
		return len(data), nil
	}
	if !errors.Is(err, windows.ERROR_IO_PENDING) {
		return 0, fmt.Errorf("write failed: %w", err)
	}

	wait := uint32(windows.INFINITE)
	if timeout >= 0 {
		wait = uint32(timeout / time.Millisecond)
	}
	if d, ok := ctx.Deadline(); ok {
		if rem := uint32(max(time.Until(d), 0) / time.Millisecond); rem < wait {
			wait = rem
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = windows.CancelIoEx(p.h, &p.ovWrite)
	})
	defer stop()

	handles := []windows.Handle{p.closing, p.ovWrite.HEvent}
	idx, werr := windows.WaitForMultipleObjects(handles, false, wait)
	if werr != nil {
		return 0, fmt.Errorf("write wait failed: %w", werr)
	}
	if idx == windows.WAIT_OBJECT_0 {
		return 0, ErrClosed
	}
	if idx == uint32(windows.WAIT_TIMEOUT) {
		_ = windows.CancelIoEx(p.h, &p.ovWrite)
		_ = windows.GetOverlappedResult(p.h, &p.ovWrite, &n, true)
		if ctx.Err() != nil {
			return int(n), ctx.Err()
		}
		return int(n), ErrTimeout
	}
	if gerr := windows.GetOverlappedResult(p.h, &p.ovWrite, &n, true); gerr != nil {
		if errors.Is(gerr, windows.ERROR_OPERATION_ABORTED) && ctx.Err() != nil {
			return int(n), ctx.Err()
		}
		return int(n), fmt.Errorf("write failed: %w", gerr)
	}
	return len(data), nil
}

func (p *port) close() error {
	if p == nil {
		return nil
	}
	p.wakeup()

	if p.ovRead.HEvent != 0 {
		_ = windows.CloseHandle(p.ovRead.HEvent)
		p.ovRead.HEvent = 0
	}
	if p.ovWrite.HEvent != 0 {
		_ = windows.CloseHandle(p.ovWrite.HEvent)
		p.ovWrite.HEvent = 0
	}
	if p.h != 0 {
		_ = windows.CloseHandle(p.h)
		p.h = 0
	}
	if p.closing != 0 {
		_ = windows.CloseHandle(p.closing)
		p.closing = 0
	}
	return nil
}
