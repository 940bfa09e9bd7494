// Package smtptest runs an in-process SMTP server for tests that need a
// real MX on the other end of the wire.
package smtptest

import (
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
)

// Message is one accepted DATA transaction.
type Message struct {
	From string
	To   []string
	Body string
}

// Server is a loopback SMTP server. Recipients listed in Reject get the
// mapped reply code on RCPT TO; everyone else is accepted.
type Server struct {
	Host string
	Port string

	mu       sync.Mutex
	reject   map[string]int
	messages []Message
	srv      *smtp.Server
}

// Start listens on 127.0.0.1 and stops the server when the test ends.
func Start(t testing.TB) *Server {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port, _ := net.SplitHostPort(l.Addr().String())

	s := &Server{Host: host, Port: port, reject: make(map[string]int)}
	s.srv = smtp.NewServer(s)
	s.srv.Domain = "mx.test"
	s.srv.ReadTimeout = 5 * time.Second
	s.srv.WriteTimeout = 5 * time.Second
	s.srv.AllowInsecureAuth = true

	go s.srv.Serve(l)
	t.Cleanup(func() { s.srv.Close() })
	return s
}

// Addr is host:port.
func (s *Server) Addr() string { return net.JoinHostPort(s.Host, s.Port) }

// Reject makes RCPT TO for addr answer with code.
func (s *Server) Reject(addr string, code int) {
	s.mu.Lock()
	s.reject[strings.ToLower(addr)] = code
	s.mu.Unlock()
}

// Messages returns a copy of every delivered message.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// NewSession implements smtp.Backend.
func (s *Server) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{srv: s}, nil
}

type session struct {
	srv  *Server
	from string
	to   []string
}

func (ss *session) Mail(from string, _ *smtp.MailOptions) error {
	ss.from = from
	return nil
}

func (ss *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	ss.srv.mu.Lock()
	code := ss.srv.reject[strings.ToLower(to)]
	ss.srv.mu.Unlock()

	if code != 0 {
		return &smtp.SMTPError{
			Code:         code,
			EnhancedCode: enhanced(code),
			Message:      "Recipient not accepted",
		}
	}
	ss.to = append(ss.to, to)
	return nil
}

func (ss *session) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	ss.srv.mu.Lock()
	ss.srv.messages = append(ss.srv.messages, Message{From: ss.from, To: ss.to, Body: string(b)})
	ss.srv.mu.Unlock()
	return nil
}

func (ss *session) Reset() {
	ss.from = ""
	ss.to = nil
}

func (ss *session) Logout() error { return nil }

func enhanced(code int) smtp.EnhancedCode {
	if code >= 500 {
		return smtp.EnhancedCode{5, 1, 1}
	}
	return smtp.EnhancedCode{4, 2, 1}
}

// SilentListener accepts connections and never writes a banner, to exercise
// read timeouts.
func SilentListener(t testing.TB) (host, port string) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		l.Close()
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
	})

	host, port, _ = net.SplitHostPort(l.Addr().String())
	return host, port
}

// ClosedPort returns a loopback port with nothing listening on it.
func ClosedPort(t testing.TB) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, port, _ := net.SplitHostPort(l.Addr().String())
	l.Close()
	return port
}
