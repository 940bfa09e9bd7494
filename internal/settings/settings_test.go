package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcleaner/internal/models"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSnapshotMissingFileGivesDefaults(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	s, err := p.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), s)
}

func TestSnapshotOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
minimum_score: 60
enable_deep_validation: true
whitelist_domains: [partner.com]
smtp_timeout: 5s
pause: 250ms
`)
	p := NewFileProvider(path, nil)

	s, err := p.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 60, s.MinimumScore)
	assert.True(t, s.EnableDeepValidation)
	assert.Equal(t, []string{"partner.com"}, s.WhitelistDomains)
	assert.Equal(t, 5*time.Second, s.SMTPTimeout)
	assert.Equal(t, 250*time.Millisecond, s.Pause)
	assert.Equal(t, 25, s.SubscriptionMinimumScore, "unset keys keep defaults")
	assert.True(t, s.RevalidationEnabled)

	require.NoError(t, os.WriteFile(path, []byte("minimum_score: 40\n"), 0o644))
	s, err = p.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 40, s.MinimumScore, "each snapshot re-reads the file")
}

func TestSnapshotRejectsBadFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "minimum_score: [oops"},
		{"score out of range", "minimum_score: 120"},
		{"zero batch", "batch_size: 0"},
		{"thresholds inverted", "score_improvement_threshold: 5\nmanual_review_threshold: 10"},
		{"negative retention", "log_retention_days: -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewFileProvider(writeFile(t, tt.content), nil).Snapshot()
			assert.Error(t, err)
			assert.Equal(t, models.DefaultSettings(), s)
		})
	}
}

func TestRuleSetFollowsFile(t *testing.T) {
	path := writeFile(t, "disposable_domains: [Burner.io]\n")
	p := NewFileProvider(path, nil)

	rs := p.RuleSet()
	assert.True(t, rs.IsDisposable("burner.io"))
	assert.Same(t, rs, p.RuleSet(), "unchanged list reuses the rules")

	require.NoError(t, os.WriteFile(path, []byte("disposable_domains: [other.io]\n"), 0o644))
	rs = p.RuleSet()
	assert.False(t, rs.IsDisposable("burner.io"))
	assert.True(t, rs.IsDisposable("other.io"))
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	p := NewFileProvider(path, nil)

	s := models.DefaultSettings()
	s.MinimumScore = 70
	s.NotifyRecipients = []string{"ops@example.org"}
	require.NoError(t, p.Save(s))

	got, err := p.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, s, got)

	s.BatchSize = -1
	assert.Error(t, p.Save(s))
}
