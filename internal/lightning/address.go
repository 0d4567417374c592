// Package lightning holds the small lightning-address surface the
// directory needs: format validation before a donation is attempted, the
// LNURL-pay endpoint derivation and sat/millisat conversion. The invoice
// request flow itself is an external call sequence owned by the caller.
package lightning

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddress reports a malformed lightning address supplied at
// donation time.
var ErrInvalidAddress = errors.New("invalid lightning address format")

// ValidateAddress checks that addr looks like a name@domain lightning
// address. It does not resolve the domain.
func ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	name, domain, ok := strings.Cut(addr, "@")
	if !ok || name == "" || domain == "" {
		return ErrInvalidAddress
	}
	if strings.ContainsAny(addr, " \t\n") || strings.Contains(domain, "@") {
		return ErrInvalidAddress
	}
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return ErrInvalidAddress
	}
	return nil
}

// PayEndpoint derives the LNURL-pay well-known URL for a lightning
// address.
func PayEndpoint(addr string) (string, error) {
	if err := ValidateAddress(addr); err != nil {
		return "", err
	}
	name, domain, _ := strings.Cut(strings.TrimSpace(addr), "@")
	return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", domain, name), nil
}

// MsatToSats floors a millisat amount to whole sats.
func MsatToSats(msat int64) int64 {
	return msat / 1000
}

// SatsToMsat converts sats to millisats.
func SatsToMsat(sats int64) int64 {
	return sats * 1000
}
