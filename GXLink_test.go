package gxlink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// collector gathers the text a link receives.
type collector struct {
	mu    sync.Mutex
	lines []string
	errs  []error
	ch    chan string
}

func newCollector(l *Link) *collector {
	c := &collector{ch: make(chan string, 1024)}
	l.SetOnReceived(func(_ *Link, text string) {
		c.mu.Lock()
		c.lines = append(c.lines, text)
		c.mu.Unlock()
		c.ch <- text
	})
	l.SetOnError(func(_ *Link, err error) {
		c.mu.Lock()
		c.errs = append(c.errs, err)
		c.mu.Unlock()
	})
	return c
}

func (c *collector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *collector) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

func (c *collector) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-c.ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for a line")
	}
	return ""
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newLinkPair returns two open links connected back to back.
func newLinkPair(t *testing.T, setup func(a, b *LinkConfig)) (*Link, *Link, *LoopbackTransport, *LoopbackTransport) {
	t.Helper()
	ca, cb := NewLinkConfig("A"), NewLinkConfig("B")
	if setup != nil {
		setup(ca, cb)
	}
	ta, tb := NewLoopback()
	a := NewLinkWithTransport(ca, ta)
	b := NewLinkWithTransport(cb, tb)
	t.Cleanup(func() {
		_ = a.Dispose()
		_ = b.Dispose()
	})
	ctx := testContext(t)
	require.NoError(t, a.Open(ctx))
	require.NoError(t, b.Open(ctx))
	return a, b, ta, tb
}

func TestLink_TextRoundTrip(t *testing.T) {
	a, b, _, _ := newLinkPair(t, nil)
	ra, rb := newCollector(a), newCollector(b)
	ctx := testContext(t)

	require.NoError(t, a.WriteLine(ctx, "Test"))
	assert.Equal(t, "Test", rb.next(t))
	require.NoError(t, b.WriteLine(ctx, "Reply"))
	assert.Equal(t, "Reply", ra.next(t))
	require.NoError(t, a.WriteLine(ctx, ""))
	assert.Equal(t, "", rb.next(t))
	assert.Empty(t, ra.Errors())
	assert.Empty(t, rb.Errors())
}

func TestLink_WireFormat(t *testing.T) {
	ca := NewLinkConfig("A")
	require.NoError(t, ca.SetTerminator("\r\n"))
	ta, tb := NewLoopback()
	require.NoError(t, tb.SetTerminator("\r\n"))
	require.NoError(t, tb.Open())
	a := NewLinkWithTransport(ca, ta)
	t.Cleanup(func() { _ = a.Dispose() })
	ctx := testContext(t)
	require.NoError(t, a.Open(ctx))

	require.NoError(t, a.WriteLine(ctx, "Test"))
	line, err := tb.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, `\t\Test`, string(line))
}

func TestLink_Ping(t *testing.T) {
	a, b, _, _ := newLinkPair(t, nil)
	ra, rb := newCollector(a), newCollector(b)
	ctx := testContext(t)

	rtt, err := a.Ping(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rtt, int64(0))

	rtt, err = b.Ping(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rtt, int64(0))

	// Text still flows after pinging.
	require.NoError(t, a.WriteLine(ctx, "after"))
	assert.Equal(t, "after", rb.next(t))
	assert.Empty(t, ra.Lines())
	assert.Equal(t, []string{"after"}, rb.Lines())
}

func TestLink_PingAsync(t *testing.T) {
	a, _, _, _ := newLinkPair(t, nil)
	done := make(chan error, 1)
	a.PingAsync(testContext(t), func(rtt int64, err error) {
		if err == nil && rtt < 0 {
			err = fmt.Errorf("negative rtt %d", rtt)
		}
		done <- err
	})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ping not completed")
	}
}

func TestLink_PingStress(t *testing.T) {
	a, b, _, _ := newLinkPair(t, nil)
	ra, rb := newCollector(a), newCollector(b)
	ctx := testContext(t)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for j := 0; j < 25; j++ {
				if _, err := a.Ping(gctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Empty(t, ra.Lines())
	assert.Empty(t, rb.Lines())
	assert.Empty(t, ra.Errors())
	assert.Empty(t, rb.Errors())
}

func TestLink_ConcurrentExchange(t *testing.T) {
	a, b, _, _ := newLinkPair(t, nil)
	ra, rb := newCollector(a), newCollector(b)
	ctx := testContext(t)

	const count = 100
	g, gctx := errgroup.WithContext(ctx)
	send := func(l *Link, prefix string) func() error {
		return func() error {
			for i := 0; i < count; i++ {
				if err := l.WriteLine(gctx, fmt.Sprintf("%s%d", prefix, i)); err != nil {
					return err
				}
			}
			return nil
		}
	}
	g.Go(send(a, "a"))
	g.Go(send(b, "b"))
	require.NoError(t, g.Wait())

	require.Eventually(t, func() bool {
		return len(ra.Lines()) == count && len(rb.Lines()) == count
	}, 2*time.Second, 5*time.Millisecond)
	for i, s := range rb.Lines() {
		assert.Equal(t, fmt.Sprintf("a%d", i), s)
	}
	for i, s := range ra.Lines() {
		assert.Equal(t, fmt.Sprintf("b%d", i), s)
	}
}

func TestLink_PingReplyFromRawPeer(t *testing.T) {
	ca := NewLinkConfig("A")
	ta, tb := NewLoopback()
	require.NoError(t, tb.Open())
	a := NewLinkWithTransport(ca, ta)
	t.Cleanup(func() { _ = a.Dispose() })
	ctx := testContext(t)
	require.NoError(t, a.Open(ctx))

	go func() {
		line, err := tb.ReadLine(ctx)
		if err == nil && string(line) == `\p\` {
			time.Sleep(5 * time.Millisecond)
			_ = tb.Write(ctx, []byte("\\p\\\n"))
		}
	}()
	rtt, err := a.Ping(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rtt, int64(5))
}

func TestLink_PingTextInsteadOfReply(t *testing.T) {
	ca := NewLinkConfig("A")
	ta, tb := NewLoopback()
	require.NoError(t, tb.Open())
	a := NewLinkWithTransport(ca, ta)
	ra := newCollector(a)
	t.Cleanup(func() { _ = a.Dispose() })
	ctx := testContext(t)
	require.NoError(t, a.Open(ctx))

	go func() {
		if _, err := tb.ReadLine(ctx); err == nil {
			_ = tb.Write(ctx, []byte("\\t\\hello\n"))
		}
	}()
	_, err := a.Ping(ctx)
	var ferr *ProtocolFramingError
	require.True(t, errors.As(err, &ferr), "got %v", err)
	assert.Equal(t, `\t\hello`, string(ferr.Line))
	assert.Empty(t, ra.Lines())
}

func TestLink_PingTimeout(t *testing.T) {
	ca := NewLinkConfig("A")
	require.NoError(t, ca.SetReadTimeout(50))
	ta, _ := NewLoopback()
	a := NewLinkWithTransport(ca, ta)
	t.Cleanup(func() { _ = a.Dispose() })
	ctx := testContext(t)
	require.NoError(t, a.Open(ctx))

	_, err := a.Ping(ctx)
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr), "got %v", err)
	assert.True(t, ioErr.Timeout())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLink_NotOpen(t *testing.T) {
	ta, _ := NewLoopback()
	l := NewLinkWithTransport(NewLinkConfig("A"), ta)
	ctx := testContext(t)
	assert.ErrorIs(t, l.WriteLine(ctx, "x"), ErrNotOpen)
	_, err := l.Ping(ctx)
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.False(t, l.IsOpen())
	assert.NoError(t, l.Close())
}

func TestLink_InvalidFrameReported(t *testing.T) {
	a, _, _, tb := newLinkPair(t, nil)
	ra := newCollector(a)
	ctx := testContext(t)

	require.NoError(t, tb.Write(ctx, []byte("garbage\n\\t\\valid\n")))
	assert.Equal(t, "valid", ra.next(t))
	errs := ra.Errors()
	require.Len(t, errs, 1)
	var ferr *ProtocolFramingError
	require.True(t, errors.As(errs[0], &ferr))
	assert.Equal(t, "garbage", string(ferr.Line))
}

func TestLink_LinesBeforeOpenAreDelivered(t *testing.T) {
	ta, tb := NewLoopback()
	require.NoError(t, tb.Open())
	a := NewLinkWithTransport(NewLinkConfig("A"), ta)
	ra := newCollector(a)
	t.Cleanup(func() { _ = a.Dispose() })

	// The line arrives before the link starts its receiver.
	require.NoError(t, ta.Open())
	ctx := testContext(t)
	require.NoError(t, tb.Write(ctx, []byte("\\t\\early\n")))
	require.NoError(t, a.Open(ctx))
	assert.Equal(t, "early", ra.next(t))
}

func TestLink_ApplyOnOpen(t *testing.T) {
	_, _, ta, tb := newLinkPair(t, func(a, b *LinkConfig) {
		require.NoError(t, a.SetBaudRate(BaudRate115200))
		require.NoError(t, a.SetDataBits(7))
		require.NoError(t, a.SetParity(ParityEven))
		require.NoError(t, a.SetStopBits(StopBitsTwo))
		require.NoError(t, a.SetFlowControl(FlowControlRtsCts))
		require.NoError(t, a.SetTerminator("\r\n"))
		require.NoError(t, a.SetReadTimeout(100))
		require.NoError(t, a.SetWriteTimeout(0))
	})
	assert.Equal(t, LoopbackSettings{
		PortName:     "A",
		BaudRate:     BaudRate115200,
		DataBits:     7,
		Parity:       ParityEven,
		StopBits:     StopBitsTwo,
		Handshake:    FlowControlRtsCts,
		Terminator:   "\r\n",
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 0,
	}, ta.Settings())
	assert.Equal(t, "B", tb.Settings().PortName)
	assert.Equal(t, time.Duration(-1), tb.Settings().ReadTimeout)
}

func TestLink_LiveConfigChange(t *testing.T) {
	a, b, ta, tb := newLinkPair(t, nil)
	rb := newCollector(b)
	ctx := testContext(t)

	require.NoError(t, a.Config().SetBaudRate(BaudRate57600))
	assert.Equal(t, BaudRate57600, ta.Settings().BaudRate)

	require.NoError(t, a.Config().SetTerminator("#"))
	require.NoError(t, b.Config().SetTerminator("#"))
	assert.Equal(t, "#", tb.Settings().Terminator)
	require.NoError(t, a.WriteLine(ctx, "hash"))
	assert.Equal(t, "hash", rb.next(t))

	require.NoError(t, b.Config().SetFlowControl(FlowControlDtrDsr))
	ready, err := a.RemoteReady()
	require.NoError(t, err)
	assert.True(t, ready)
}

type flakyTransport struct {
	*LoopbackTransport
	fail atomic.Bool
}

func (f *flakyTransport) SetBaudRate(value BaudRate) error {
	if f.fail.Load() {
		return errors.New("unsupported by device")
	}
	return f.LoopbackTransport.SetBaudRate(value)
}

func TestLink_ConfigApplyFailureReported(t *testing.T) {
	ta, _ := NewLoopback()
	ft := &flakyTransport{LoopbackTransport: ta}
	l := NewLinkWithTransport(NewLinkConfig("A"), ft)
	r := newCollector(l)
	t.Cleanup(func() { _ = l.Dispose() })
	require.NoError(t, l.Open(testContext(t)))

	ft.fail.Store(true)
	require.NoError(t, l.Config().SetBaudRate(BaudRate19200))
	assert.Equal(t, BaudRate19200, l.Config().BaudRate())
	assert.Equal(t, BaudRate9600, ta.Settings().BaudRate)
	errs := r.Errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "BaudRate")

	// A failing setter makes Open fail.
	require.NoError(t, l.Close())
	err := l.Open(testContext(t))
	var openErr *TransportOpenError
	require.True(t, errors.As(err, &openErr), "got %v", err)
	assert.False(t, l.IsOpen())
}

func TestLink_OpenFailureIsRetryable(t *testing.T) {
	ta, _ := NewLoopback()
	l := NewLinkWithTransport(NewLinkConfig("busy"), ta)
	t.Cleanup(func() { _ = l.Dispose() })
	var states []gxcommon.MediaState
	l.SetOnStateChange(func(_ *Link, s gxcommon.MediaState) { states = append(states, s) })

	busy := errors.New("device busy")
	ta.SetOpenError(busy)
	err := l.Open(testContext(t))
	var openErr *TransportOpenError
	require.True(t, errors.As(err, &openErr), "got %v", err)
	assert.Equal(t, "busy", openErr.Port)
	assert.ErrorIs(t, err, busy)
	assert.False(t, l.IsOpen())
	assert.Equal(t, []gxcommon.MediaState{gxcommon.MediaStateOpening, gxcommon.MediaStateClosed}, states)

	ta.SetOpenError(nil)
	require.NoError(t, l.Open(testContext(t)))
	assert.True(t, l.IsOpen())
}

func TestLink_OpenHonoursContext(t *testing.T) {
	ta, _ := NewLoopback()
	l := NewLinkWithTransport(NewLinkConfig("A"), ta)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Open(ctx), context.Canceled)
	assert.False(t, ta.IsOpen())
}

func TestLink_StateChanges(t *testing.T) {
	ta, _ := NewLoopback()
	l := NewLinkWithTransport(NewLinkConfig("A"), ta)
	var states []gxcommon.MediaState
	l.SetOnStateChange(func(_ *Link, s gxcommon.MediaState) { states = append(states, s) })

	require.NoError(t, l.Open(testContext(t)))
	require.NoError(t, l.Open(testContext(t)))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, []gxcommon.MediaState{
		gxcommon.MediaStateOpening, gxcommon.MediaStateOpen,
		gxcommon.MediaStateClosing, gxcommon.MediaStateClosed,
	}, states)
}

func TestLink_Reopen(t *testing.T) {
	a, b, _, _ := newLinkPair(t, nil)
	rb := newCollector(b)
	ctx := testContext(t)

	require.NoError(t, b.Close())
	require.NoError(t, a.WriteLine(ctx, "lost"))
	require.NoError(t, b.Open(ctx))
	require.NoError(t, a.WriteLine(ctx, "kept"))
	assert.Equal(t, "kept", rb.next(t))
	assert.Equal(t, []string{"kept"}, rb.Lines())
}

func TestLink_Dispose(t *testing.T) {
	ta, _ := NewLoopback()
	config := NewLinkConfig("A")
	l := NewLinkWithTransport(config, ta)
	require.NoError(t, l.Open(testContext(t)))

	require.NoError(t, l.Dispose())
	require.NoError(t, l.Dispose())
	assert.False(t, l.IsOpen())
	assert.False(t, ta.IsOpen())
	assert.ErrorIs(t, l.Open(testContext(t)), ErrDisposed)

	require.NoError(t, config.SetBaudRate(BaudRate300))
	assert.Equal(t, BaudRate9600, ta.Settings().BaudRate)
}

func TestLink_DisposeAfterFailedOpen(t *testing.T) {
	ta, _ := NewLoopback()
	ta.SetOpenError(errors.New("no device"))
	l := NewLinkWithTransport(NewLinkConfig("A"), ta)
	require.Error(t, l.Open(testContext(t)))
	require.NoError(t, l.Dispose())
	require.NoError(t, l.Dispose())
}

func TestLink_Logging(t *testing.T) {
	var buf bytes.Buffer
	ta, _ := NewLoopback()
	l := NewLinkWithTransport(NewLinkConfig("A"), ta)
	l.SetLogger(zerolog.New(&buf))
	require.NoError(t, l.Open(testContext(t)))
	require.NoError(t, l.Close())
	assert.Contains(t, buf.String(), `"message":"link open"`)
	assert.Contains(t, buf.String(), `"port":"A"`)
	assert.Contains(t, buf.String(), `"message":"link closed"`)
}

func TestLink_CloseReleasesReplyBehindWriter(t *testing.T) {
	a, b, _, _ := newLinkPair(t, func(a, b *LinkConfig) {
		require.NoError(t, a.SetFlowControl(FlowControlDtrDsr))
	})
	// B never asserts its ready signal, the write waits forever.
	written := make(chan error, 1)
	go func() { written <- a.WriteLine(context.Background(), "x") }()
	time.Sleep(20 * time.Millisecond)

	// A's receiver now waits behind the write to answer B.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := b.Ping(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	closed := make(chan error, 1)
	go func() { closed <- a.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	select {
	case err := <-written:
		assert.ErrorIs(t, err, ErrNotOpen)
	case <-time.After(time.Second):
		t.Fatal("WriteLine not released by Close")
	}
	assert.False(t, a.IsOpen())
}

func TestLink_CloseReleasesPendingPing(t *testing.T) {
	ta, tb := NewLoopback()
	require.NoError(t, tb.Open())
	a := NewLinkWithTransport(NewLinkConfig("A"), ta)
	t.Cleanup(func() { _ = a.Dispose() })
	require.NoError(t, a.Open(testContext(t)))

	pinged := make(chan error, 1)
	go func() {
		_, err := a.Ping(context.Background())
		pinged <- err
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- a.Dispose() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispose did not return")
	}
	select {
	case err := <-pinged:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Ping not released by Dispose")
	}
}

func TestLink_WriteLineHonoursContextWhileBusy(t *testing.T) {
	ta, tb := NewLoopback()
	require.NoError(t, tb.Open())
	a := NewLinkWithTransport(NewLinkConfig("A"), ta)
	t.Cleanup(func() { _ = a.Dispose() })
	require.NoError(t, a.Open(testContext(t)))

	// The unanswered ping keeps the write path busy.
	pctx, pcancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer pcancel()
	a.PingAsync(pctx, nil)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.WriteLine(ctx, "late"), context.DeadlineExceeded)
}

func TestLink_ReceiveErrorReported(t *testing.T) {
	a, _, ta, tb := newLinkPair(t, nil)
	ra := newCollector(a)

	failure := errors.New("receiver overrun")
	ta.received.Fail(failure)
	a.d.notify()
	require.Eventually(t, func() bool { return len(ra.Errors()) == 1 }, time.Second, 5*time.Millisecond)
	var ioErr *IOError
	require.True(t, errors.As(ra.Errors()[0], &ioErr), "got %v", ra.Errors()[0])
	assert.Equal(t, "read", ioErr.Op)
	assert.ErrorIs(t, ioErr, failure)

	// Receiving goes on after the error.
	require.NoError(t, tb.Write(testContext(t), []byte("\\t\\after\n")))
	assert.Equal(t, "after", ra.next(t))
	assert.Len(t, ra.Errors(), 1)
}

func TestLink_PingWithUnsolicitedPeerPings(t *testing.T) {
	ta, tb := NewLoopback()
	require.NoError(t, tb.Open())
	a := NewLinkWithTransport(NewLinkConfig("A"), ta)
	ra := newCollector(a)
	t.Cleanup(func() {
		_ = a.Dispose()
		_ = tb.Close()
	})
	ctx := testContext(t)
	require.NoError(t, a.Open(ctx))

	ping := EncodeFrame(ProbeFrame(), "\n")
	var sent, received atomic.Int64
	var done atomic.Bool
	// The peer answers every ping frame of A until the pings are done.
	go func() {
		for {
			line, err := tb.ReadLine(ctx)
			if err != nil {
				return
			}
			if string(line) != `\p\` {
				continue
			}
			received.Inc()
			if !done.Load() {
				sent.Inc()
				_ = tb.Write(ctx, ping)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i := 0; i < 20; i++ {
			sent.Inc()
			if err := tb.Write(gctx, ping); err != nil {
				return err
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < 50; i++ {
			if _, err := a.Ping(gctx); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())
	done.Store(true)

	// Every ping frame the peer sent was either taken as a reply or answered.
	require.Eventually(t, func() bool {
		return sent.Load() == received.Load()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, ra.Lines())
	assert.Empty(t, ra.Errors())
}
