package queue

import (
	"strings"
	"time"

	"mailcleaner/internal/lookup"
	"mailcleaner/internal/models"
)

const (
	day = 24 * time.Hour

	basePriority   = 50
	businessBonus  = 10
	whitelistBonus = 25
	minPriority    = 1
	maxPriority    = 100
)

// Priority ranks a candidate: addresses closer to passing, rejected more
// recently, on business or whitelisted domains go first. Score and recency
// bonuses are banded, not continuous.
func Priority(originalScore int, rejectedAt, now time.Time, domain string, s models.Settings) int {
	p := basePriority

	switch {
	case originalScore >= 50:
		p += 30
	case originalScore >= 40:
		p += 20
	case originalScore >= 30:
		p += 10
	}

	age := now.Sub(rejectedAt)
	switch {
	case age <= 7*day:
		p += 15
	case age <= 30*day:
		p += 10
	case age <= 60*day:
		p += 5
	}

	if lookup.IsBusinessDomain(domain) {
		p += businessBonus
	}
	if s.Whitelisted(domain) {
		p += whitelistBonus
	}

	return min(maxPriority, max(minPriority, p))
}

func domainOf(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
