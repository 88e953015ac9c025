package gxlink

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkConfig_Defaults(t *testing.T) {
	c := NewLinkConfig("COM1")
	s := c.Snapshot()
	assert.Equal(t, ConfigSnapshot{
		PortName:     "COM1",
		BaudRate:     BaudRate9600,
		DataBits:     8,
		Parity:       ParityNone,
		StopBits:     StopBitsOne,
		FlowControl:  FlowControlNone,
		Terminator:   "\n",
		ReadTimeout:  NoTimeout,
		WriteTimeout: NoTimeout,
	}, s)
	assert.Equal(t, "COM1 9600 8 None One None", c.String())
}

func TestLinkConfig_RejectsInvalidValues(t *testing.T) {
	c := NewLinkConfig("COM1")
	var changes []Field
	c.Subscribe(func(_ *LinkConfig, f Field) { changes = append(changes, f) })

	tests := []struct {
		name  string
		field Field
		set   func() error
	}{
		{"data bits 4", FieldDataBits, func() error { return c.SetDataBits(4) }},
		{"data bits 9", FieldDataBits, func() error { return c.SetDataBits(9) }},
		{"empty terminator", FieldTerminator, func() error { return c.SetTerminator("") }},
		{"long terminator", FieldTerminator, func() error { return c.SetTerminator("abc") }},
		{"read timeout", FieldReadTimeout, func() error { return c.SetReadTimeout(-5) }},
		{"write timeout", FieldWriteTimeout, func() error { return c.SetWriteTimeout(-2) }},
		{"baud rate", FieldBaudRate, func() error { return c.SetBaudRate(BaudRate(12345)) }},
		{"parity", FieldParity, func() error { return c.SetParity(Parity(42)) }},
		{"stop bits", FieldStopBits, func() error { return c.SetStopBits(StopBits(-1)) }},
		{"flow control", FieldFlowControl, func() error { return c.SetFlowControl(FlowControl(9)) }},
	}
	before := c.Snapshot()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Equal(t, before, c.Snapshot())
	assert.Empty(t, changes)
}

func TestLinkConfig_AcceptsBoundaryValues(t *testing.T) {
	c := NewLinkConfig("COM1")
	require.NoError(t, c.SetDataBits(5))
	require.NoError(t, c.SetDataBits(8))
	require.NoError(t, c.SetTerminator("\r\n"))
	require.NoError(t, c.SetTerminator("x"))
	require.NoError(t, c.SetReadTimeout(0))
	require.NoError(t, c.SetReadTimeout(NoTimeout))
	for _, b := range BaudRates {
		require.NoError(t, c.SetBaudRate(b))
	}
	assert.Equal(t, BaudRate115200, c.BaudRate())
}

func TestLinkConfig_NotifiesInSubscriptionOrder(t *testing.T) {
	c := NewLinkConfig("COM1")
	var got []string
	c.Subscribe(func(_ *LinkConfig, f Field) { got = append(got, "a:"+f.String()) })
	c.Subscribe(func(_ *LinkConfig, f Field) { got = append(got, "b:"+f.String()) })

	require.NoError(t, c.SetBaudRate(BaudRate19200))
	assert.Equal(t, []string{"a:BaudRate", "b:BaudRate"}, got)
}

func TestLinkConfig_ObserverSeesNewValue(t *testing.T) {
	c := NewLinkConfig("COM1")
	var seen BaudRate
	c.Subscribe(func(cfg *LinkConfig, f Field) {
		if f == FieldBaudRate {
			seen = cfg.BaudRate()
		}
	})
	require.NoError(t, c.SetBaudRate(BaudRate57600))
	assert.Equal(t, BaudRate57600, seen)
}

func TestLinkConfig_SameValueDoesNotNotify(t *testing.T) {
	c := NewLinkConfig("COM1")
	count := 0
	c.Subscribe(func(*LinkConfig, Field) { count++ })
	require.NoError(t, c.SetPortName("COM1"))
	require.NoError(t, c.SetBaudRate(BaudRate9600))
	require.NoError(t, c.SetTerminator("\n"))
	assert.Zero(t, count)
}

func TestLinkConfig_Unsubscribe(t *testing.T) {
	c := NewLinkConfig("COM1")
	count := 0
	unsubscribe := c.Subscribe(func(*LinkConfig, Field) { count++ })
	require.NoError(t, c.SetDataBits(7))
	unsubscribe()
	unsubscribe()
	require.NoError(t, c.SetDataBits(6))
	assert.Equal(t, 1, count)
}

func TestLinkConfig_Set(t *testing.T) {
	c := NewLinkConfig("COM1")
	require.NoError(t, c.Set(FieldPortName, "COM2"))
	require.NoError(t, c.Set(FieldBaudRate, 38400))
	require.NoError(t, c.Set(FieldBaudRate, BaudRate57600))
	require.NoError(t, c.Set(FieldDataBits, 7))
	require.NoError(t, c.Set(FieldParity, ParityEven))
	require.NoError(t, c.Set(FieldStopBits, StopBitsTwo))
	require.NoError(t, c.Set(FieldFlowControl, FlowControlDtrDsr))
	require.NoError(t, c.Set(FieldTerminator, "\r\n"))
	require.NoError(t, c.Set(FieldReadTimeout, 100))
	require.NoError(t, c.Set(FieldWriteTimeout, 200))

	assert.Equal(t, ConfigSnapshot{
		PortName:     "COM2",
		BaudRate:     BaudRate57600,
		DataBits:     7,
		Parity:       ParityEven,
		StopBits:     StopBitsTwo,
		FlowControl:  FlowControlDtrDsr,
		Terminator:   "\r\n",
		ReadTimeout:  100,
		WriteTimeout: 200,
	}, c.Snapshot())
}

func TestLinkConfig_SetTypeMismatch(t *testing.T) {
	c := NewLinkConfig("COM1")
	var verr *ValidationError

	err := c.Set(FieldDataBits, "8")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, FieldDataBits, verr.Field)

	err = c.Set(Field(99), 1)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "unknown field", verr.Reason)
	assert.Equal(t, 8, c.DataBits())
}

func TestLinkConfig_ConcurrentAccess(t *testing.T) {
	c := NewLinkConfig("COM1")
	c.Subscribe(func(cfg *LinkConfig, _ Field) { _ = cfg.Snapshot() })
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.SetDataBits(5 + (i+j)%4)
				_ = c.String()
			}
		}(i)
	}
	wg.Wait()
	assert.GreaterOrEqual(t, c.DataBits(), 5)
	assert.LessOrEqual(t, c.DataBits(), 8)
}

func TestParseHelpers(t *testing.T) {
	b, err := ParseBaudRate(" 115200 ")
	require.NoError(t, err)
	assert.Equal(t, BaudRate115200, b)
	_, err = ParseBaudRate("100")
	assert.Error(t, err)
	_, err = ParseBaudRate("fast")
	assert.Error(t, err)

	p, err := ParseParity("EVEN")
	require.NoError(t, err)
	assert.Equal(t, ParityEven, p)
	_, err = ParseParity("mark")
	assert.Error(t, err)

	s, err := ParseStopBits("2")
	require.NoError(t, err)
	assert.Equal(t, StopBitsTwo, s)

	f, err := ParseFlowControl("DtrDsr")
	require.NoError(t, err)
	assert.Equal(t, FlowControlDtrDsr, f)
	f, err = ParseFlowControl("xonxoff")
	require.NoError(t, err)
	assert.Equal(t, FlowControlSoftware, f)
	_, err = ParseFlowControl("both")
	assert.Error(t, err)
}

func TestToHandshake(t *testing.T) {
	assert.Equal(t, handshakeNone, toHandshake(FlowControlNone))
	assert.Equal(t, handshakeRequestToSend, toHandshake(FlowControlRtsCts))
	assert.Equal(t, handshakeNone, toHandshake(FlowControlDtrDsr))
	assert.Equal(t, handshakeXOnXOff, toHandshake(FlowControlSoftware))
}
