// Package gxlink provides a point-to-point line protocol over a serial port.
// Two peers exchange text lines and probes, measure the round-trip time of
// the line and optionally gate every write on the DTR/DSR modem signals.
//
// Features
//
//   - Configurable line settings (port, baud rate, data bits, parity, stop bits)
//   - Flow control: none, RTS/CTS, XON/XOFF and polled DTR/DSR handshake.
//   - Framing: every frame is one line with a header and a configurable
//     terminator of one or two bytes.
//   - Ping: send a probe and measure the time until the peer answers it.
//   - Live reconfiguration: changed settings are applied to an open port.
//   - Events: Received, Error and state change callbacks.
//   - Logging: structured logging with zerolog, port tracing with gxcommon.
//
// # Construction
//
// Use NewLinkConfig to describe the line and NewLink to create a link on it.
//
// Example
//
//	config := gxlink.NewLinkConfig("/dev/ttyUSB0")
//	_ = config.SetBaudRate(gxlink.BaudRate115200)
//	link := gxlink.NewLink(config)
//
//	link.SetOnReceived(func(l *gxlink.Link, text string) {
//	    // handle text
//	})
//	link.SetOnError(func(l *gxlink.Link, err error) {
//	    // log/handle error
//	})
//
//	if err := link.Open(ctx); err != nil {
//	    // handle open error
//	}
//	defer link.Dispose()
//
//	_ = link.WriteLine(ctx, "Hello")
//	rtt, err := link.Ping(ctx)
//
// # Wire format
//
// A text frame is the three characters \t\ followed by the text and the
// terminator. A probe is \p\ followed by the terminator. A link answers every
// probe it receives with a probe.
//
// # Errors and timeouts
//
// Rejected settings return *ValidationError and leave the configuration
// unchanged. Timeouts are given in milliseconds, NoTimeout waits forever.
// All timeout failures match ErrTimeout with errors.Is.
//
// # Notes
//
// Handlers are called on a goroutine owned by the link. Long-running work in
// handlers should be offloaded to a separate goroutine to avoid blocking the receiver.
// Use NewLoopback and NewLinkWithTransport to run two links in one process.
package gxlink
