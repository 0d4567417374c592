package relays

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	prodSet = []string{"wss://relay.damus.io", "wss://relay.primal.net"}
	testSet = []string{"ws://127.0.0.1:7777"}
)

type fixedPrefs string

func (p fixedPrefs) RelayMode() string { return string(p) }

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeTest, ParseMode("test"))
	assert.Equal(t, ModeProd, ParseMode("prod"))
	assert.Equal(t, ModeAuto, ParseMode("auto"))
	assert.Equal(t, ModeAuto, ParseMode(""))
	assert.Equal(t, ModeAuto, ParseMode("garbage"))
	assert.Equal(t, ModeProd, ParseMode("  prod  "))
}

func TestPolicyModeSelection(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		localDev bool
		want     []string
	}{
		{"explicit test", "test", false, testSet},
		{"explicit prod", "prod", false, prodSet},
		{"auto on production host", "auto", false, prodSet},
		{"auto on local dev", "auto", true, testSet},
		{"explicit prod overrides local auto default", "prod", true, prodSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(prodSet, testSet, tt.localDev, fixedPrefs(tt.mode))
			assert.Equal(t, tt.want, p.ActiveReadRelays())
		})
	}
}

func TestWriteRelaysLocalDevGuard(t *testing.T) {
	// even with prod mode forced, a local dev runtime never writes to prod
	p := NewPolicy(prodSet, testSet, true, fixedPrefs("prod"))
	assert.Equal(t, testSet, p.WriteRelays())

	p = NewPolicy(prodSet, testSet, false, fixedPrefs("prod"))
	assert.Equal(t, prodSet, p.WriteRelays())
}

func TestIdentityReadRelaysLocalDev(t *testing.T) {
	// identity metadata resolves against prod even when app data is on test
	p := NewPolicy(prodSet, testSet, true, fixedPrefs("test"))
	assert.Equal(t, prodSet, p.IdentityReadRelays())
	assert.Equal(t, testSet, p.ActiveReadRelays())
}

func TestPolicyNilPreferences(t *testing.T) {
	p := NewPolicy(prodSet, testSet, false, nil)
	assert.Equal(t, ModeAuto, p.Mode())
	assert.Equal(t, prodSet, p.ActiveReadRelays())
}

func TestIsLocalHost(t *testing.T) {
	assert.True(t, IsLocalHost("localhost"))
	assert.True(t, IsLocalHost("127.0.0.1"))
	assert.True(t, IsLocalHost("::1"))
	assert.True(t, IsLocalHost(" Localhost "))
	assert.False(t, IsLocalHost("proofofheart.org"))
}
