package validator

import (
	"regexp"
	"strings"
)

var (
	localCharset = regexp.MustCompile(`^[A-Za-z0-9._%+-]+$`)
	domainShape  = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
)

// splitAddress enforces the structural rules and returns the lowercased
// local part and domain. reason is empty when the address is well formed.
func splitAddress(email string) (local, domain, reason string) {
	email = strings.TrimSpace(email)
	if strings.Count(email, "@") != 1 {
		return "", "", "address must contain exactly one @"
	}

	at := strings.IndexByte(email, '@')
	local, domain = email[:at], strings.ToLower(email[at+1:])

	switch {
	case local == "":
		return "", "", "local part is empty"
	case len(local) > 64:
		return "", "", "local part longer than 64 characters"
	case !localCharset.MatchString(local):
		return "", "", "local part has invalid characters"
	case strings.HasPrefix(local, "."), strings.HasSuffix(local, "."):
		return "", "", "local part starts or ends with a dot"
	case strings.Contains(local, ".."):
		return "", "", "local part has consecutive dots"
	case domain == "":
		return "", "", "domain is empty"
	case len(domain) > 253:
		return "", "", "domain longer than 253 characters"
	case !domainShape.MatchString(domain):
		return "", "", "domain is not a valid host name"
	}
	return strings.ToLower(local), domain, ""
}
