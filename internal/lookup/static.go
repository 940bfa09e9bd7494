package lookup

import (
	"regexp"
	"strings"

	"mailcleaner/internal/models"
)

// Throwaway providers plus the reserved/test domains nobody can receive mail on.
var defaultDisposable = []string{
	"temp-mail.org", "10minutemail.com", "guerrillamail.com", "guerrillamail.net",
	"mailinator.com", "yopmail.com", "throwawaymail.com", "tempmail.net",
	"sharklasers.com", "dispostable.com", "trashmail.com", "getnada.com",
	"maildrop.cc", "fakeinbox.com", "mintemail.com", "mohmal.com",
	"example.com", "example.org", "example.net",
	"test.com", "testing.com", "localhost.com",
}

var roleCategories = map[models.RoleCategory][]string{
	models.RoleCritical: {
		"noreply", "no-reply", "donotreply", "do-not-reply",
		"postmaster", "hostmaster", "abuse", "mailer-daemon",
	},
	models.RoleBusiness: {
		"info", "contact", "support", "help", "sales", "marketing", "service",
		"billing", "accounts", "orders", "admin", "administrator", "office",
		"team", "staff", "hr", "jobs", "careers", "press", "media", "legal",
		"privacy", "security",
	},
	models.RoleTechnical: {
		"webmaster", "www", "ftp", "mail", "email", "root", "system",
	},
	models.RoleOther: {
		"newsletter", "notifications", "alerts", "feedback", "hello",
		"enquiries", "inquiries", "bounce", "bounces", "unsubscribe",
	},
}

var typoDomains = map[string]string{
	"gmial.com": "gmail.com", "gmai.com": "gmail.com", "gmil.com": "gmail.com",
	"gmail.co": "gmail.com", "gmail.con": "gmail.com", "gmai.co": "gmail.com",
	"yahooo.com": "yahoo.com", "yaho.com": "yahoo.com", "yahoo.co": "yahoo.com",
	"yahoo.con": "yahoo.com",
	"hotmial.com": "hotmail.com", "hotmil.com": "hotmail.com",
	"hotmail.con": "hotmail.com",
	"outlok.com": "outlook.com", "outloo.com": "outlook.com",
	"outlook.con": "outlook.com",
}

var trustedProviders = []string{
	"gmail.com", "googlemail.com", "yahoo.com", "yahoo.co.uk", "yahoo.ca",
	"yahoo.com.au", "hotmail.com", "outlook.com", "live.com", "msn.com",
	"aol.com", "icloud.com", "me.com", "mac.com", "protonmail.com",
	"zoho.com", "fastmail.com", "yandex.com", "mail.ru", "qq.com",
	"163.com", "126.com", "sina.com", "sohu.com",
}

var fakePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(test|testing|tester)\d*@`),
	regexp.MustCompile(`@example\.(com|org|net)$`),
	regexp.MustCompile(`^(fake|dummy|invalid|null|void|bogus|notreal)\d*@`),
	regexp.MustCompile(`^\d{8,}@`),
	regexp.MustCompile(`^[a-z]{25,}@`),
	regexp.MustCompile(`^(asdf|qwer|zxcv|hjkl|uiop|bnm|fgh|rty|cvb){3,}@`),
}

var businessPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.(com|org|net|edu|gov)$`),
	regexp.MustCompile(`\.(co|com)\.[a-z]{2}$`),
	regexp.MustCompile(`\.(inc|corp|ltd|llc)\.`),
}

// RuleSet is the static data the validator scores against. It is built once
// per invocation and only read afterwards.
type RuleSet struct {
	disposable map[string]struct{}
	roles      map[string]models.RoleCategory
	trusted    map[string]struct{}
}

// NewRuleSet returns the built-in rules extended with extra disposable domains.
func NewRuleSet(extraDisposable ...string) *RuleSet {
	rs := &RuleSet{
		disposable: make(map[string]struct{}, len(defaultDisposable)+len(extraDisposable)),
		roles:      make(map[string]models.RoleCategory),
		trusted:    make(map[string]struct{}, len(trustedProviders)),
	}
	for _, d := range defaultDisposable {
		rs.disposable[d] = struct{}{}
	}
	for _, d := range extraDisposable {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			rs.disposable[d] = struct{}{}
		}
	}
	// Critical is written last so it wins if a local part is listed twice.
	for _, cat := range []models.RoleCategory{models.RoleOther, models.RoleTechnical, models.RoleBusiness, models.RoleCritical} {
		for _, local := range roleCategories[cat] {
			rs.roles[local] = cat
		}
	}
	for _, d := range trustedProviders {
		rs.trusted[d] = struct{}{}
	}
	return rs
}

// IsDisposable checks if the domain is a known burner provider.
func (rs *RuleSet) IsDisposable(domain string) bool {
	_, ok := rs.disposable[strings.ToLower(domain)]
	return ok
}

// RoleCategory returns the role class of a local part, or RoleNone.
func (rs *RuleSet) RoleCategory(local string) models.RoleCategory {
	return rs.roles[strings.ToLower(local)]
}

// TypoCorrection returns the intended domain for a known misspelling.
func TypoCorrection(domain string) (string, bool) {
	fix, ok := typoDomains[strings.ToLower(domain)]
	return fix, ok
}

func (rs *RuleSet) IsTrusted(domain string) bool {
	_, ok := rs.trusted[strings.ToLower(domain)]
	return ok
}

// FakePatternMatches returns how many suspicious patterns the address hits.
func FakePatternMatches(email string) int {
	email = strings.ToLower(email)
	n := 0
	for _, re := range fakePatterns {
		if re.MatchString(email) {
			n++
		}
	}
	return n
}

// IsBusinessDomain reports whether the domain looks like an organisation's.
func IsBusinessDomain(domain string) bool {
	domain = strings.ToLower(domain)
	for _, re := range businessPatterns {
		if re.MatchString(domain) {
			return true
		}
	}
	return false
}
