package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"
)

// Resolver is the subset of *net.Resolver the validator needs.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// NewResolver returns a resolver that fails fast when the DNS server is slow.
func NewResolver(dialTimeout time.Duration) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: dialTimeout}
			return d.DialContext(ctx, network, address)
		},
	}
}

// DomainStatus is the DNS verdict for one domain.
type DomainStatus struct {
	Exists    bool
	MX        []*net.MX
	Temporary bool
}

// HasMX reports whether at least one MX record was found.
func (d DomainStatus) HasMX() bool { return len(d.MX) > 0 }

// CheckDomain resolves the domain's address and MX records. A timeout or
// SERVFAIL on either lookup marks the verdict Temporary.
func CheckDomain(ctx context.Context, r Resolver, domain string) DomainStatus {
	var st DomainStatus

	addrs, hostErr := r.LookupHost(ctx, domain)
	if hostErr == nil && len(addrs) > 0 {
		st.Exists = true
	}

	mx, mxErr := SortedMX(ctx, r, domain)
	if mxErr == nil {
		st.MX = mx
		st.Exists = true
	}

	if !st.Exists && (isTemporary(hostErr) || isTemporary(mxErr)) {
		st.Temporary = true
	}
	return st
}

// SortedMX returns the domain's MX records, most preferred first.
func SortedMX(ctx context.Context, r Resolver, domain string) ([]*net.MX, error) {
	mxRecords, err := r.LookupMX(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed: %w", err)
	}
	if len(mxRecords) == 0 {
		return nil, errors.New("no MX records found for domain")
	}
	sort.SliceStable(mxRecords, func(i, j int) bool { return mxRecords[i].Pref < mxRecords[j].Pref })
	return mxRecords, nil
}

// MXHosts renders the records without trailing dots.
func MXHosts(mx []*net.MX) []string {
	out := make([]string, 0, len(mx))
	for _, m := range mx {
		out = append(out, strings.TrimSuffix(m.Host, "."))
	}
	return out
}

func isTemporary(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsNotFound && (dnsErr.IsTimeout || dnsErr.IsTemporary)
	}
	return errors.Is(err, context.DeadlineExceeded)
}
