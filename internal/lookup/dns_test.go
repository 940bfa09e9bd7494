package lookup

import (
	"context"
	"net"
	"testing"

	"github.com/foxcpp/go-mockdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() *mockdns.Resolver {
	return &mockdns.Resolver{
		Zones: map[string]mockdns.Zone{
			"acme-corp.com.": {
				A: []string{"192.0.2.10"},
				MX: []net.MX{
					{Host: "mx2.acme-corp.com.", Pref: 20},
					{Host: "mx1.acme-corp.com.", Pref: 10},
				},
				TXT: []string{"v=spf1 include:_spf.acme-corp.com -all"},
			},
			"_dmarc.acme-corp.com.": {
				TXT: []string{"v=DMARC1; p=reject"},
			},
			"web-only.com.": {
				A: []string{"192.0.2.20"},
			},
			"flaky.com.": {
				Err: &net.DNSError{Err: "i/o timeout", Name: "flaky.com", IsTimeout: true},
			},
		},
	}
}

func TestCheckDomain(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	t.Run("domain with MX", func(t *testing.T) {
		st := CheckDomain(ctx, r, "acme-corp.com")
		assert.True(t, st.Exists)
		require.True(t, st.HasMX())
		assert.Equal(t, []string{"mx1.acme-corp.com", "mx2.acme-corp.com"}, MXHosts(st.MX))
	})

	t.Run("address but no MX", func(t *testing.T) {
		st := CheckDomain(ctx, r, "web-only.com")
		assert.True(t, st.Exists)
		assert.False(t, st.HasMX())
		assert.False(t, st.Temporary)
	})

	t.Run("unknown domain", func(t *testing.T) {
		st := CheckDomain(ctx, r, "nowhere.invalid")
		assert.False(t, st.Exists)
		assert.False(t, st.Temporary)
	})

	t.Run("timeout is temporary", func(t *testing.T) {
		st := CheckDomain(ctx, r, "flaky.com")
		assert.False(t, st.Exists)
		assert.True(t, st.Temporary)
	})
}

func TestSecurityRecords(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	assert.True(t, CheckSPF(ctx, r, "acme-corp.com"))
	assert.True(t, CheckDMARC(ctx, r, "acme-corp.com"))
	assert.False(t, CheckSPF(ctx, r, "web-only.com"))
	assert.False(t, CheckDMARC(ctx, r, "web-only.com"))
}

func TestIdentifyProvider(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"aspmx.l.google.com.", "google"},
		{"acme-com.mail.protection.outlook.com.", "office365"},
		{"mx0a-001.pphosted.com.", "proofpoint"},
		{"mx1.acme-corp.com.", "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, IdentifyProvider([]*net.MX{{Host: tt.host, Pref: 10}}))
		})
	}
}
