//go:build linux || darwin

package gxlink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type port struct {
	f  *os.File
	fd int
	// Self-pipe that wakes up a blocked read.
	r *os.File
	w *os.File
}

func (p *port) isOpen() bool {
	return p.f != nil
}

func (p *port) ensureOpen() error {
	if p == nil || p.f == nil {
		return errors.New("serial port not open")
	}
	return nil
}

// wakeup makes a blocked read and a blocked write return.
func (p *port) wakeup() {
	if p.w != nil {
		_, _ = p.w.Write([]byte{1})
	}
	if p.f != nil {
		_ = p.f.SetWriteDeadline(time.Now())
	}
}

func (p *port) close() error {
	if p == nil {
		return nil
	}
	if p.r != nil {
		_ = p.r.Close()
		p.r = nil
	}
	if p.w != nil {
		_ = p.w.Close()
		p.w = nil
	}
	if p.f != nil {
		f := p.f
		p.f = nil
		p.fd = 0
		return f.Close()
	}
	return nil
}

func (p *port) getModemBit(bit int) (bool, error) {
	if err := p.ensureOpen(); err != nil {
		return false, err
	}
	status, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return false, fmt.Errorf("get modem status failed: %w", err)
	}
	return (status & bit) != 0, nil
}

func (p *port) setModemBit(bit int, on bool) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	v := bit
	req := unix.TIOCMBIC
	if on {
		req = unix.TIOCMBIS
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), uintptr(req), uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return fmt.Errorf("set modem bit failed: %w", errno)
	}
	return nil
}

func (p *port) getDtrEnable() (bool, error) {
	return p.getModemBit(unix.TIOCM_DTR)
}

func (p *port) setDtrEnable(on bool) error {
	return p.setModemBit(unix.TIOCM_DTR, on)
}

func (p *port) getDsrEnable() (bool, error) {
	return p.getModemBit(unix.TIOCM_DSR)
}

// openPipe creates the self-pipe used by wakeup.
func (p *port) openPipe() error {
	var err error
	p.r, p.w, err = os.Pipe()
	if err != nil {
		return err
	}
	return unix.SetNonblock(int(p.r.Fd()), true)
}

// read blocks until data is available or wakeup is called.
// It returns no data and no error when woken up.
func (p *port) read() ([]byte, error) {
	if err := p.ensureOpen(); err != nil {
		return nil, err
	}
	if p.r == nil {
		return nil, errors.New("read not initialized: self-pipe is nil")
	}
	pfds := []unix.PollFd{
		{Fd: int32(p.fd), Events: unix.POLLIN},
		{Fd: int32(p.r.Fd()), Events: unix.POLLIN},
	}
	_, err := unix.Poll(pfds, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	if (pfds[1].Revents & unix.POLLIN) != 0 {
		return nil, nil
	}
	if (pfds[0].Revents & (unix.POLLIN | unix.POLLHUP | unix.POLLERR)) == 0 {
		return nil, nil
	}
	cnt, _ := p.getBytesToRead()
	if cnt <= 0 {
		cnt = 1
	}
	buf := make([]byte, cnt)
	n, err := p.f.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// write writes data within timeout. A negative timeout waits until ctx is done.
func (p *port) write(ctx context.Context, data []byte, timeout time.Duration) (int, error) {
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := p.f.SetWriteDeadline(deadline); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = p.f.SetWriteDeadline(time.Now())
	})
	defer stop()
	n, err := p.f.Write(data)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, ErrTimeout
	}
	return n, err
}
