package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

var ErrNoRecipients = errors.New("notify: no recipients")

// SMTPSink relays notifications through a submission server.
type SMTPSink struct {
	Addr     string
	From     string
	To       []string
	Username string
	Password string

	send func(addr string, a sasl.Client, from string, to []string, r io.Reader) error
}

func NewSMTP(addr, from string, to []string, username, password string) *SMTPSink {
	return &SMTPSink{
		Addr:     addr,
		From:     from,
		To:       to,
		Username: username,
		Password: password,
		send:     smtp.SendMail,
	}
}

func (s *SMTPSink) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := m.To
	if len(to) == 0 {
		to = s.To
	}
	if len(to) == 0 {
		return ErrNoRecipients
	}

	var auth sasl.Client
	if s.Username != "" {
		auth = sasl.NewPlainClient("", s.Username, s.Password)
	}

	if err := s.send(s.Addr, auth, s.From, to, strings.NewReader(s.compose(m, to))); err != nil {
		return fmt.Errorf("smtp notify via %s: %w", s.Addr, err)
	}
	return nil
}

func (s *SMTPSink) compose(m Message, to []string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(s.From, '@'); at >= 0 {
		domain = s.From[at+1:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.String()
}
