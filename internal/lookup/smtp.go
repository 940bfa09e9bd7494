package lookup

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"os"
	"strings"
	"syscall"
	"time"

	"mailcleaner/internal/models"
)

const (
	DefaultHeloHost = "mta1.mailcleaner.local" // Identify yourself politely
	DefaultMailFrom = "verify@mailcleaner.local"

	DefaultSMTPTimeout = 15 * time.Second
)

// DialFunc opens the TCP connection to an MX. Swapped for a proxy dialer when configured.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ProbeResult is what one SMTP conversation revealed. The validator turns it
// into score deltas.
type ProbeResult struct {
	Host           string
	ConnectionType string
	GreetingCode   int
	HeloOK         bool
	MailOK         bool
	RcptCode       int
	RcptMessage    string
	Err            error
}

// Accepted reports a 250/251 on RCPT TO.
func (r ProbeResult) Accepted() bool {
	return r.RcptCode == 250 || r.RcptCode == 251
}

// Prober runs the HELO / MAIL FROM / RCPT TO handshake against one MX.
type Prober struct {
	HeloHost string
	MailFrom string
	Port     string
	Timeout  time.Duration
	Dial     DialFunc

	sem chan struct{}
}

// NewProber caps concurrent outbound connections at maxConns so a large scan
// does not get the sending IP banned.
func NewProber(timeout time.Duration, maxConns int) *Prober {
	if maxConns <= 0 {
		maxConns = 15
	}
	return &Prober{
		HeloHost: DefaultHeloHost,
		MailFrom: DefaultMailFrom,
		Port:     "25",
		Timeout:  timeout,
		sem:      make(chan struct{}, maxConns),
	}
}

// Probe never returns an error: every failure is folded into the result.
func (p *Prober) Probe(ctx context.Context, mxHost, targetEmail string) ProbeResult {
	res := ProbeResult{Host: strings.TrimSuffix(mxHost, ".")}

	if p.sem != nil {
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
			res.ConnectionType = models.ConnectionTimeout
			res.Err = ctx.Err()
			return res
		}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := p.Dial
	if dial == nil {
		d := net.Dialer{Timeout: timeout}
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", net.JoinHostPort(res.Host, p.Port))
	if err != nil {
		res.ConnectionType = classifyDialError(err)
		res.Err = err
		return res
	}

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)

	tp := textproto.NewConn(conn)
	defer tp.Close()

	// 1. Banner
	code, _, err := tp.ReadResponse(220)
	res.GreetingCode = code
	if err != nil {
		res.ConnectionType = classifyReadError(err)
		res.Err = err
		tp.Cmd("QUIT")
		return res
	}
	res.ConnectionType = models.ConnectionComplete

	// 2. HELO
	if _, err := tp.Cmd("HELO %s", p.HeloHost); err != nil {
		res.Err = err
		return res
	}
	if _, _, err := tp.ReadResponse(250); err != nil {
		res.Err = err
		tp.Cmd("QUIT")
		return res
	}
	res.HeloOK = true

	// 3. MAIL FROM
	if _, err := tp.Cmd("MAIL FROM:<%s>", p.MailFrom); err != nil {
		res.Err = err
		return res
	}
	if _, _, err := tp.ReadResponse(250); err != nil {
		res.Err = err
		tp.Cmd("QUIT")
		return res
	}
	res.MailOK = true

	// 4. RCPT TO. Read any code; the caller classifies it.
	if _, err := tp.Cmd("RCPT TO:<%s>", targetEmail); err != nil {
		res.Err = err
		return res
	}
	code, msg, err := tp.ReadResponse(0)
	res.RcptCode = code
	res.RcptMessage = msg

	tp.Cmd("QUIT")

	if err != nil && code == 0 {
		res.Err = err
		return res
	}
	if !res.Accepted() {
		res.Err = &textproto.Error{Code: code, Msg: msg}
	}
	return res
}

func classifyDialError(err error) string {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return models.ConnectionRefused
	}
	if isTimeout(err) {
		return models.ConnectionTimeout
	}
	return models.ConnectionError
}

func classifyReadError(err error) string {
	if isTimeout(err) {
		return models.ConnectionTimeout
	}
	var textErr *textproto.Error
	if errors.As(err, &textErr) {
		return models.ConnectionComplete
	}
	return models.ConnectionError
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRejection reports a hard recipient rejection (550).
func IsRejection(code int) bool {
	return code == 550
}

// IsRateLimitError checks if the server is asking us to slow down.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var textErr *textproto.Error
	if errors.As(err, &textErr) {
		return textErr.Code == 450 || textErr.Code == 451 || textErr.Code == 452
	}
	return false
}
