package lookup

import (
	"context"
	"net"
	"strings"
)

// CheckSPF looks for a valid SPF record in TXT entries.
func CheckSPF(ctx context.Context, r Resolver, domain string) bool {
	txts, err := r.LookupTXT(ctx, domain)
	if err != nil {
		return false
	}
	for _, txt := range txts {
		if strings.HasPrefix(txt, "v=spf1") {
			return true
		}
	}
	return false
}

// CheckDMARC looks for a DMARC policy record.
func CheckDMARC(ctx context.Context, r Resolver, domain string) bool {
	// DMARC is always at _dmarc.domain.com
	txts, err := r.LookupTXT(ctx, "_dmarc."+domain)
	if err != nil {
		return false
	}
	for _, txt := range txts {
		if strings.HasPrefix(txt, "v=DMARC1") {
			return true
		}
	}
	return false
}

// IdentifyProvider categorizes the mail infrastructure behind the MX records.
func IdentifyProvider(mxRecords []*net.MX) string {
	for _, mx := range mxRecords {
		host := strings.ToLower(mx.Host)

		switch {
		case strings.Contains(host, "pphosted.com"):
			return "proofpoint"
		case strings.Contains(host, "mimecast.com"):
			return "mimecast"
		case strings.Contains(host, "barracudanetworks.com"):
			return "barracuda"
		case strings.Contains(host, "google.com"), strings.Contains(host, "googlemail.com"):
			return "google"
		case strings.Contains(host, "outlook.com"):
			return "office365"
		}
	}
	return "generic"
}
