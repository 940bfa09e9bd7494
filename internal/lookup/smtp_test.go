package lookup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mailcleaner/internal/lookup/smtptest"
	"mailcleaner/internal/models"
)

func proberFor(port string, timeout time.Duration) *Prober {
	p := NewProber(timeout, 2)
	p.Port = port
	return p
}

func TestProbeAccepted(t *testing.T) {
	srv := smtptest.Start(t)

	res := proberFor(srv.Port, 2*time.Second).Probe(context.Background(), srv.Host+".", "jane@acme-corp.com")

	assert.Equal(t, models.ConnectionComplete, res.ConnectionType)
	assert.Equal(t, 220, res.GreetingCode)
	assert.True(t, res.HeloOK)
	assert.True(t, res.MailOK)
	assert.True(t, res.Accepted())
	assert.NoError(t, res.Err)
}

func TestProbeRejected(t *testing.T) {
	srv := smtptest.Start(t)
	srv.Reject("ghost@acme-corp.com", 550)

	res := proberFor(srv.Port, 2*time.Second).Probe(context.Background(), srv.Host, "ghost@acme-corp.com")

	assert.Equal(t, 550, res.RcptCode)
	assert.True(t, IsRejection(res.RcptCode))
	assert.False(t, res.Accepted())
	assert.Error(t, res.Err)
}

func TestProbeTemporaryFailure(t *testing.T) {
	srv := smtptest.Start(t)
	srv.Reject("busy@acme-corp.com", 451)

	res := proberFor(srv.Port, 2*time.Second).Probe(context.Background(), srv.Host, "busy@acme-corp.com")

	assert.Equal(t, 451, res.RcptCode)
	assert.True(t, IsRateLimitError(res.Err))
}

func TestProbeConnectionClassification(t *testing.T) {
	t.Run("refused", func(t *testing.T) {
		port := smtptest.ClosedPort(t)
		res := proberFor(port, time.Second).Probe(context.Background(), "127.0.0.1", "jane@acme-corp.com")
		assert.Equal(t, models.ConnectionRefused, res.ConnectionType)
	})

	t.Run("silent server times out", func(t *testing.T) {
		host, port := smtptest.SilentListener(t)
		start := time.Now()
		res := proberFor(port, 300*time.Millisecond).Probe(context.Background(), host, "jane@acme-corp.com")
		assert.Equal(t, models.ConnectionTimeout, res.ConnectionType)
		assert.Less(t, time.Since(start), 3*time.Second)
	})
}
