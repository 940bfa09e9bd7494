package validator

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"mailcleaner/internal/cache"
	"mailcleaner/internal/clock"
	"mailcleaner/internal/lookup"
	"mailcleaner/internal/models"
)

const (
	defaultPauseEvery = 50
	defaultPause      = 100 * time.Millisecond
	domainCacheTTL    = 15 * time.Minute
)

// Validator scores addresses. It performs no persistence and never returns an
// error: every failure is folded into the ValidationResult.
type Validator struct {
	rules    func() *lookup.RuleSet
	resolver lookup.Resolver
	prober   *lookup.Prober
	domains  *cache.Store[lookup.DomainStatus]
	clock    clock.Clock
	logger   *slog.Logger
	observe  func(*models.ValidationResult)

	pauseEvery int
	pause      time.Duration
}

type Option func(*Validator)

// WithResolver enables the DNS stages. Without one the validator runs offline
// and skips them.
func WithResolver(r lookup.Resolver) Option {
	return func(v *Validator) { v.resolver = r }
}

// WithProber enables the SMTP handshake in deep mode.
func WithProber(p *lookup.Prober) Option {
	return func(v *Validator) { v.prober = p }
}

// WithRuleSource makes every Validate call ask src for the current rules,
// so edits to the settings file apply without a restart.
func WithRuleSource(src func() *lookup.RuleSet) Option {
	return func(v *Validator) { v.rules = src }
}

// WithDomainCache replaces the default DNS verdict cache. A nil cache sends
// every address to the resolver.
func WithDomainCache(c *cache.Store[lookup.DomainStatus]) Option {
	return func(v *Validator) { v.domains = c }
}

func WithClock(c clock.Clock) Option {
	return func(v *Validator) { v.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithObserver registers a callback run on every finished result (metrics).
func WithObserver(fn func(*models.ValidationResult)) Option {
	return func(v *Validator) { v.observe = fn }
}

// WithBatchPause sets how often ValidateBatch sleeps and for how long.
func WithBatchPause(every int, d time.Duration) Option {
	return func(v *Validator) {
		v.pauseEvery = every
		v.pause = d
	}
}

func New(rules *lookup.RuleSet, opts ...Option) *Validator {
	if rules == nil {
		rules = lookup.NewRuleSet()
	}
	v := &Validator{
		rules:      func() *lookup.RuleSet { return rules },
		domains:    cache.New[lookup.DomainStatus](0, domainCacheTTL),
		clock:      clock.System{},
		logger:     slog.Default(),
		pauseEvery: defaultPauseEvery,
		pause:      defaultPause,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "validator")
	return v
}

// run accumulates one pipeline pass.
type run struct {
	res   *models.ValidationResult
	rules *lookup.RuleSet
	score int
	local string
}

func (r *run) record(name string, c models.Check) {
	r.score += c.Delta
	r.res.Details[name] = c
}

func (r *run) fail(kind models.ErrorKind) { r.res.Errors = append(r.res.Errors, kind) }

func (r *run) warn(kind models.WarningKind) { r.res.Warnings = append(r.res.Warnings, kind) }

// Validate runs the scoring pipeline. deep adds MX resolution and an SMTP
// handshake against the primary MX.
func (v *Validator) Validate(ctx context.Context, email string, deep bool) *models.ValidationResult {
	start := v.clock.Now()
	res := &models.ValidationResult{
		Email:     strings.TrimSpace(email),
		Errors:    []models.ErrorKind{},
		Warnings:  []models.WarningKind{},
		Details:   make(map[string]models.Check),
		Deep:      deep,
		CheckedAt: start,
	}

	local, domain, reason := splitAddress(email)
	if reason != "" {
		res.Errors = append(res.Errors, models.ErrInvalidSyntax)
		res.Details[models.CheckSyntax] = models.Check{Passed: false, Note: reason}
		v.finish(res, 0, start)
		return res
	}
	res.Email = local + "@" + domain
	res.Domain = domain

	r := &run{res: res, rules: v.rules(), score: BaseScore, local: local}
	r.record(models.CheckSyntax, models.Check{Passed: true, Delta: WeightSyntax})

	v.checkFakePatterns(r)
	v.checkDisposable(r)
	v.checkRole(r)
	v.checkTypo(r)
	v.checkDomain(ctx, r)
	v.checkReputation(r)

	d := Damping(len(res.Errors), len(res.Warnings))
	r.record(models.CheckDamping, models.Check{Passed: d == 0, Delta: d})

	if deep {
		v.checkDeep(ctx, r)
	}

	v.finish(res, r.score, start)
	return res
}

func (v *Validator) finish(res *models.ValidationResult, raw int, start time.Time) {
	res.Score = Clamp(raw)
	res.IsValid, res.Threshold = DetermineValidity(res.Score, res.Errors, res.Signals)
	res.RiskLevel = RiskLevelFor(res.Score)
	res.Confidence = ConfidenceFor(res.Score)
	res.Duration = v.clock.Now().Sub(start).String()
	if v.observe != nil {
		v.observe(res)
	}
}

func (v *Validator) checkFakePatterns(r *run) {
	n := lookup.FakePatternMatches(r.res.Email)
	for i := 0; i < n; i++ {
		r.fail(models.ErrFakePattern)
	}
	r.record(models.CheckFakePattern, models.Check{
		Passed: n == 0,
		Delta:  -PenaltyFakePattern * n,
		Data:   map[string]string{"matches": strconv.Itoa(n)},
	})
}

func (v *Validator) checkDisposable(r *run) {
	if !r.rules.IsDisposable(r.res.Domain) {
		r.record(models.CheckDisposable, models.Check{Passed: true})
		return
	}
	r.res.Signals.Disposable = true
	r.warn(models.WarnDisposable)
	r.record(models.CheckDisposable, models.Check{Passed: false, Delta: -PenaltyDisposable})
}

func (v *Validator) checkRole(r *run) {
	cat := r.rules.RoleCategory(r.local)
	if cat == models.RoleNone {
		r.record(models.CheckRole, models.Check{Passed: true})
		return
	}
	r.res.Signals.RoleCategory = cat
	r.warn(models.WarnRoleAccount)
	r.record(models.CheckRole, models.Check{
		Passed: false,
		Delta:  -RolePenalty(cat),
		Data:   map[string]string{"category": string(cat)},
	})
}

func (v *Validator) checkTypo(r *run) {
	fix, ok := lookup.TypoCorrection(r.res.Domain)
	if !ok {
		r.record(models.CheckTypo, models.Check{Passed: true})
		return
	}
	r.res.Suggestion = r.local + "@" + fix
	r.warn(models.WarnTypoDomain)
	r.record(models.CheckTypo, models.Check{
		Passed: false,
		Delta:  -PenaltyTypo,
		Note:   "did you mean " + fix + "?",
		Data:   map[string]string{"suggestion": fix},
	})
}

func (v *Validator) domainStatus(ctx context.Context, domain string) lookup.DomainStatus {
	if v.domains == nil {
		return lookup.CheckDomain(ctx, v.resolver, domain)
	}
	if st, ok := v.domains.Get(domain); ok {
		return st
	}
	st := lookup.CheckDomain(ctx, v.resolver, domain)
	if !st.Temporary {
		v.domains.Set(domain, st)
	}
	return st
}

func (v *Validator) checkDomain(ctx context.Context, r *run) {
	if v.resolver == nil {
		r.record(models.CheckDomain, models.Check{Skipped: true, Note: "offline"})
		return
	}

	st := v.domainStatus(ctx, r.res.Domain)
	switch {
	case st.Temporary:
		r.warn(models.WarnDNSTimeout)
		r.record(models.CheckDomain, models.Check{Skipped: true, Note: "dns lookup timed out"})
	case st.Exists && st.HasMX():
		r.res.Signals.DomainValid = true
		r.record(models.CheckDomain, models.Check{
			Passed: true,
			Delta:  WeightDomainValid,
			Data:   map[string]string{"mx": strings.Join(lookup.MXHosts(st.MX), ",")},
		})
	default:
		if !st.Exists {
			r.fail(models.ErrDomainNotFound)
		}
		if !st.HasMX() {
			r.fail(models.ErrNoMX)
		}
		r.record(models.CheckDomain, models.Check{Passed: false, Delta: -PenaltyDomainBroken})
	}
}

func (v *Validator) checkReputation(r *run) {
	if r.res.Signals.RoleCategory == models.RoleCritical {
		r.record(models.CheckReputation, models.Check{Skipped: true, Note: "critical role account"})
		return
	}

	sig := &r.res.Signals
	delta := 0
	switch {
	case r.rules.IsTrusted(r.res.Domain):
		sig.TrustedProvider = true
		delta += WeightTrusted
	case sig.DomainValid:
		sig.CorporateDomain = true
		delta += WeightCorporate
	}
	// The TLD pattern never stacks on the trusted bonus.
	if !sig.TrustedProvider && lookup.IsBusinessDomain(r.res.Domain) {
		sig.BusinessDomain = true
		delta += WeightBusiness
	}
	r.record(models.CheckReputation, models.Check{Passed: delta > 0, Delta: delta})
}

func (v *Validator) checkDeep(ctx context.Context, r *run) {
	if v.resolver == nil {
		r.record(models.CheckDeep, models.Check{Skipped: true, Note: "offline"})
		return
	}

	domain := r.res.Domain
	mx, err := lookup.SortedMX(ctx, v.resolver, domain)
	if err != nil {
		c := models.Check{Passed: false, Note: err.Error()}
		// The domain stage already charged for a missing MX.
		if !r.res.HasError(models.ErrNoMX) {
			r.fail(models.ErrNoMX)
			c.Delta = -PenaltyNoMX
		}
		r.record(models.CheckDeep, c)
		return
	}

	data := map[string]string{
		"mx":       strings.Join(lookup.MXHosts(mx), ","),
		"provider": lookup.IdentifyProvider(mx),
		"spf":      strconv.FormatBool(lookup.CheckSPF(ctx, v.resolver, domain)),
		"dmarc":    strconv.FormatBool(lookup.CheckDMARC(ctx, v.resolver, domain)),
		"smtpTest": "false",
	}
	if v.prober == nil {
		r.record(models.CheckDeep, models.Check{Skipped: true, Note: "smtp probe disabled", Data: data})
		return
	}

	probe := v.prober.Probe(ctx, mx[0].Host, r.res.Email)
	data["connectionType"] = probe.ConnectionType
	if probe.RcptCode != 0 {
		data["rcptCode"] = strconv.Itoa(probe.RcptCode)
	}
	v.logger.Debug("smtp probe finished", "email", r.res.Email, "mx", probe.Host,
		"connection", probe.ConnectionType, "rcpt_code", probe.RcptCode, "error", probe.Err)

	c := models.Check{Data: data}
	switch probe.ConnectionType {
	case models.ConnectionTimeout:
		r.warn(models.WarnSMTPTimeout)
		c.Delta = WeightSMTPTimeout
		c.Note = "connection timed out"
	case models.ConnectionRefused:
		r.warn(models.WarnSMTPRefused)
		c.Delta = WeightSMTPRefused
		c.Note = "connection refused"
	case models.ConnectionError:
		r.fail(models.ErrSMTPConnect)
		c.Note = errString(probe.Err)
	default:
		v.scoreConversation(r, probe, &c)
	}
	r.record(models.CheckDeep, c)
}

func (v *Validator) scoreConversation(r *run, probe lookup.ProbeResult, c *models.Check) {
	if probe.GreetingCode != 220 {
		r.warn(models.WarnSMTPGreeting)
		c.Note = "unexpected greeting"
		return
	}
	if probe.HeloOK {
		c.Delta += WeightSMTPHelo
	}
	if probe.MailOK {
		c.Delta += WeightSMTPMail
	}
	if !probe.HeloOK || !probe.MailOK {
		r.warn(models.WarnSMTPHandshake)
		c.Note = errString(probe.Err)
		return
	}

	switch {
	case probe.Accepted():
		c.Passed = true
		c.Delta += WeightSMTPRcpt
		c.Data["smtpTest"] = "true"
	case lookup.IsRejection(probe.RcptCode):
		r.fail(models.ErrSMTPRecipient)
		c.Note = probe.RcptMessage
	case lookup.IsRateLimitError(probe.Err):
		r.warn(models.WarnSMTPTemporary)
		c.Delta += WeightSMTPTemporary
		c.Note = probe.RcptMessage
	default:
		r.warn(models.WarnSMTPHandshake)
		c.Note = errString(probe.Err)
	}
}

// ValidateBatch validates emails in order, sleeping between chunks so a long
// list does not hammer remote MX hosts. A cancelled context stops the batch
// and returns what has been validated so far.
func (v *Validator) ValidateBatch(ctx context.Context, emails []string, deep bool) []*models.ValidationResult {
	out := make([]*models.ValidationResult, 0, len(emails))
	for i, email := range emails {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && v.pauseEvery > 0 && i%v.pauseEvery == 0 && v.pause > 0 {
			select {
			case <-time.After(v.pause):
			case <-ctx.Done():
				return out
			}
		}
		out = append(out, v.Validate(ctx, email, deep))
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
