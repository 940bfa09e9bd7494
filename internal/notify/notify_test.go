package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcleaner/internal/lookup/smtptest"
)

type failingSink struct{ err error }

func (f failingSink) Send(context.Context, Message) error { return f.err }

type recordingSink struct{ got []Message }

func (r *recordingSink) Send(_ context.Context, m Message) error {
	r.got = append(r.got, m)
	return nil
}

func TestSMTPSinkDelivers(t *testing.T) {
	srv := smtptest.Start(t)
	sink := NewSMTP(srv.Addr(), "cleaner@list.test", []string{"ops@list.test"}, "", "")

	err := sink.Send(context.Background(), Message{Subject: "Scan finished", Body: "Processed: 3\nInvalid: 1"})
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "cleaner@list.test", msgs[0].From)
	assert.Equal(t, []string{"ops@list.test"}, msgs[0].To)
	assert.Contains(t, msgs[0].Body, "Subject: Scan finished")
	assert.Contains(t, msgs[0].Body, "Processed: 3")
	assert.Contains(t, msgs[0].Body, "Invalid: 1")
}

func TestSMTPSinkRecipients(t *testing.T) {
	var (
		gotTo   []string
		gotAuth sasl.Client
	)
	sink := NewSMTP("mail.list.test:587", "cleaner@list.test", []string{"ops@list.test"}, "cleaner", "secret")
	sink.send = func(_ string, a sasl.Client, _ string, to []string, _ io.Reader) error {
		gotTo, gotAuth = to, a
		return nil
	}

	require.NoError(t, sink.Send(context.Background(), Message{Subject: "x", To: []string{"admin@list.test"}}))
	assert.Equal(t, []string{"admin@list.test"}, gotTo, "message recipients win")
	assert.NotNil(t, gotAuth)

	sink.To = nil
	assert.ErrorIs(t, sink.Send(context.Background(), Message{Subject: "x"}), ErrNoRecipients)
}

func TestMultiJoinsErrors(t *testing.T) {
	rec := &recordingSink{}
	boom := errors.New("boom")
	m := Multi{failingSink{boom}, rec}

	err := m.Send(context.Background(), Message{Subject: "hello"})
	assert.ErrorIs(t, err, boom)
	require.Len(t, rec.got, 1, "later sinks still run")

	// Deliver swallows the error.
	Deliver(context.Background(), m, Message{Subject: "again"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Len(t, rec.got, 2)
}
