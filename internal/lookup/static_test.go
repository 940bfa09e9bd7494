package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailcleaner/internal/models"
)

func TestRoleCategory(t *testing.T) {
	rs := NewRuleSet()

	tests := []struct {
		local string
		want  models.RoleCategory
	}{
		{"noreply", models.RoleCritical},
		{"Mailer-Daemon", models.RoleCritical},
		{"support", models.RoleBusiness},
		{"webmaster", models.RoleTechnical},
		{"newsletter", models.RoleOther},
		{"jane", models.RoleNone},
	}
	for _, tt := range tests {
		t.Run(tt.local, func(t *testing.T) {
			assert.Equal(t, tt.want, rs.RoleCategory(tt.local))
		})
	}
}

func TestFakePatternMatches(t *testing.T) {
	tests := []struct {
		email string
		want  int
	}{
		{"test123@example.com", 2},
		{"dummy@acme.io", 1},
		{"12345678@acme.io", 1},
		{"abcdefghijklmnopqrstuvwxyz@acme.io", 1},
		{"asdfasdfasdf@acme.io", 1},
		{"jane.doe@acme.io", 0},
		{"contest@acme.io", 0},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, FakePatternMatches(tt.email))
		})
	}
}

func TestDisposableAndTrusted(t *testing.T) {
	rs := NewRuleSet("Burner.Example")

	assert.True(t, rs.IsDisposable("mailinator.com"))
	assert.True(t, rs.IsDisposable("burner.example"))
	assert.False(t, rs.IsDisposable("gmail.com"))

	assert.True(t, rs.IsTrusted("GMAIL.com"))
	assert.False(t, rs.IsTrusted("acme-corp.com"))
}

func TestTypoCorrection(t *testing.T) {
	fix, ok := TypoCorrection("gmial.com")
	assert.True(t, ok)
	assert.Equal(t, "gmail.com", fix)

	_, ok = TypoCorrection("gmail.com")
	assert.False(t, ok)
}

func TestIsBusinessDomain(t *testing.T) {
	assert.True(t, IsBusinessDomain("acme-corp.com"))
	assert.True(t, IsBusinessDomain("acme.co.uk"))
	assert.True(t, IsBusinessDomain("mail.acme.ltd.io"))
	assert.False(t, IsBusinessDomain("acme.io"))
}
