package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/Gurux/gxlink-go"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
)

var (
	port     = flag.String("S", "", "Port name")
	baudRate = flag.String("b", "9600", "Baud rate")
	dataBits = flag.Int("d", 8, "DataBits (5, 6, 7, 8)")
	parity   = flag.String("p", "None", "Parity (None, Odd, Even)")
	stopBits = flag.String("s", "One", "Stop bits (One, Two)")
	flow     = flag.String("f", "None", "Flow control (None, RtsCts, DtrDsr, Software)")
	t        = flag.String("t", "", "Trace level.")
	w        = flag.Int("w", 1000, "Write and ping timeout in milliseconds.")
	r        = flag.Int("r", gxlink.NoTimeout, "Read timeout in milliseconds. -1 waits forever.")
	term     = flag.String("e", `\n`, "Line terminator, one or two characters. Go escapes are accepted.")
	lang     = flag.String("lang", "", "Used language.")
	debug    = flag.Bool("debug", false, "Enable debug logging.")
)

func main() {
	flag.Parse()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	if *debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}
	if *port == "" {
		flag.PrintDefaults()
		printPorts(log)
		return
	}

	config, err := newConfig()
	if err != nil {
		log.Error().Err(err).Msg("invalid arguments")
		return
	}

	transport := gxlink.NewSerialTransport()
	if *lang != "" {
		tag, err := language.Parse(*lang)
		if err != nil {
			log.Error().Err(err).Msg("error parsing language")
			return
		}
		transport.Localize(tag)
	}
	if *t != "" {
		tl, err := gxcommon.TraceLevelParse(*t)
		if err != nil {
			log.Error().Err(err).Msg("error parsing trace level")
			return
		}
		transport.SetTrace(tl)
	}
	transport.SetOnTrace(func(_ *gxlink.SerialTransport, e gxcommon.TraceEventArgs) {
		log.Debug().Msgf("Trace: %s", e.String())
	})

	link := gxlink.NewLinkWithTransport(config, transport)
	link.SetLogger(log)
	link.SetOnReceived(func(_ *gxlink.Link, text string) {
		fmt.Printf("< %s\n", text)
	})
	link.SetOnError(func(_ *gxlink.Link, err error) {
		log.Warn().Err(err).Msg("link error")
	})
	link.SetOnStateChange(func(_ *gxlink.Link, state gxcommon.MediaState) {
		log.Info().Msgf("Media state change : %s", state.String())
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := link.Open(ctx); err != nil {
		log.Error().Err(err).Msg("open failed")
		printPorts(log)
		return
	}
	//Close the connection.
	defer func() {
		if err := link.Dispose(); err != nil {
			log.Error().Err(err).Msg("close failed")
		}
	}()

	fmt.Println("Type a line to send it, /ping to measure the line or /quit to exit.")
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !command(ctx, link, log, line) {
				return
			}
		}
	}
}

func newConfig() (*gxlink.LinkConfig, error) {
	config := gxlink.NewLinkConfig(*port)
	br, err := gxlink.ParseBaudRate(*baudRate)
	if err != nil {
		return nil, err
	}
	p, err := gxlink.ParseParity(*parity)
	if err != nil {
		return nil, err
	}
	sb, err := gxlink.ParseStopBits(*stopBits)
	if err != nil {
		return nil, err
	}
	fc, err := gxlink.ParseFlowControl(*flow)
	if err != nil {
		return nil, err
	}
	terminator, err := strconv.Unquote(`"` + *term + `"`)
	if err != nil {
		return nil, fmt.Errorf("invalid terminator %q: %w", *term, err)
	}
	for _, set := range []func() error{
		func() error { return config.SetBaudRate(br) },
		func() error { return config.SetDataBits(*dataBits) },
		func() error { return config.SetParity(p) },
		func() error { return config.SetStopBits(sb) },
		func() error { return config.SetFlowControl(fc) },
		func() error { return config.SetWriteTimeout(*w) },
		func() error { return config.SetReadTimeout(*r) },
		func() error { return config.SetTerminator(terminator) },
	} {
		if err := set(); err != nil {
			return nil, err
		}
	}
	return config, nil
}

// command runs one input line. It returns false when the user wants to exit.
func command(ctx context.Context, link *gxlink.Link, log zerolog.Logger, line string) bool {
	switch strings.TrimSpace(line) {
	case "/quit":
		return false
	case "/ping":
		// Bound the reply wait with the same timeout as writes.
		pctx, cancel := context.WithTimeout(ctx, time.Duration(*w)*time.Millisecond)
		defer cancel()
		rtt, err := link.Ping(pctx)
		if err != nil {
			log.Error().Err(err).Msg("ping failed")
			return true
		}
		fmt.Printf("Ping: %d ms\n", rtt)
	default:
		if err := link.WriteLine(ctx, line); err != nil {
			log.Error().Err(err).Msg("send failed")
		}
	}
	return true
}

func printPorts(log zerolog.Logger) {
	ret, err := gxlink.EnumeratePorts()
	if err != nil {
		log.Error().Err(err).Msg("failed to get available serial ports")
		return
	}
	fmt.Fprintln(os.Stderr, "Available serial ports: "+strings.Join(ret, ","))
}
