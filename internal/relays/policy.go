// Package relays decides which relay set to use for reads and writes,
// based on the visitor's sticky mode preference and the runtime
// environment. It guards against accidentally publishing to production
// relays while developing locally.
package relays

import "strings"

// Mode is the relay selection preference.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeTest Mode = "test"
	ModeProd Mode = "prod"
)

// ParseMode maps a stored preference string to a Mode. Anything
// unrecognized falls back to auto rather than failing.
func ParseMode(s string) Mode {
	switch Mode(strings.TrimSpace(s)) {
	case ModeTest:
		return ModeTest
	case ModeProd:
		return ModeProd
	default:
		return ModeAuto
	}
}

// Preferences supplies the persisted relay mode. A nil Preferences means
// no stored preference (auto).
type Preferences interface {
	RelayMode() string
}

// Policy selects relay sets for the different operation classes.
type Policy struct {
	prod     []string
	test     []string
	localDev bool
	prefs    Preferences
}

// NewPolicy builds a Policy. localDev marks a recognized local-development
// runtime, which forces writes to the test set and identity reads to the
// production set regardless of mode.
func NewPolicy(prod, test []string, localDev bool, prefs Preferences) *Policy {
	return &Policy{prod: prod, test: test, localDev: localDev, prefs: prefs}
}

// Mode returns the effective preference mode.
func (p *Policy) Mode() Mode {
	if p.prefs == nil {
		return ModeAuto
	}
	return ParseMode(p.prefs.RelayMode())
}

// ActiveReadRelays returns the relay set for app-specific reads.
func (p *Policy) ActiveReadRelays() []string {
	switch p.Mode() {
	case ModeTest:
		return p.test
	case ModeProd:
		return p.prod
	}
	if p.localDev {
		return p.test
	}
	return p.prod
}

// WriteRelays returns the relay set for publishes. A local-development
// runtime always writes to the test set, whatever the mode says.
func (p *Policy) WriteRelays() []string {
	if p.localDev {
		return p.test
	}
	return p.ActiveReadRelays()
}

// IdentityReadRelays returns the relay set for generic profile-metadata
// reads. In local development these are forced to production so names and
// pictures resolve against real-world data while app data stays on the
// test backend.
func (p *Policy) IdentityReadRelays() []string {
	if p.localDev {
		return p.prod
	}
	return p.ActiveReadRelays()
}

// IsLocalHost reports whether host names a local-development machine.
func IsLocalHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
