package proxy

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
)

// Manager rotates outbound SMTP probes across a proxy pool and bounds how
// many proxied connections are open at once.
type Manager struct {
	proxies []*url.URL
	counter uint64
	sem     chan struct{}
}

// NewManager parses the proxy list. A limit of 0 defaults to one connection per proxy.
func NewManager(proxyList []string, limit int) (*Manager, error) {
	var parsed []*url.URL

	for _, p := range proxyList {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL '%s': %w", p, err)
		}
		parsed = append(parsed, u)
	}

	if limit <= 0 {
		limit = len(parsed)
		if limit == 0 {
			limit = 10
		}
	}

	return &Manager{
		proxies: parsed,
		sem:     make(chan struct{}, limit),
	}, nil
}

// Next returns the next proxy in round-robin order, or nil when the pool is empty.
func (m *Manager) Next() *url.URL {
	if m == nil || len(m.proxies) == 0 {
		return nil
	}
	n := atomic.AddUint64(&m.counter, 1)
	return m.proxies[(n-1)%uint64(len(m.proxies))]
}

func (m *Manager) Enabled() bool {
	return m != nil && len(m.proxies) > 0
}

// Limit is the number of concurrent proxied connections allowed.
func (m *Manager) Limit() int { return cap(m.sem) }
