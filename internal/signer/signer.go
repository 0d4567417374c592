// Package signer models the event-signing capability as an explicit
// dependency. The aggregation engine never signs anything itself; every
// publish operation requires a Signer and fails with ErrNoSigner when the
// capability is absent.
package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrNoSigner indicates a write was attempted without a signing capability.
var ErrNoSigner = errors.New("no nostr signer available")

// Signer signs events on behalf of one identity.
type Signer interface {
	// PublicKey returns the hex public key of the signing identity.
	PublicKey(ctx context.Context) (string, error)
	// Sign fills in the event's pubkey, id and signature.
	Sign(ctx context.Context, ev *nostr.Event) error
}

// LocalSigner signs with a locally held secret key.
type LocalSigner struct {
	sk string
	pk string
}

// FromSecret builds a LocalSigner from an nsec or hex-encoded secret key.
func FromSecret(secret string) (*LocalSigner, error) {
	sk := secret
	if len(secret) > 5 && secret[:5] == "nsec1" {
		prefix, decoded, err := nip19.Decode(secret)
		if err != nil || prefix != "nsec" {
			return nil, fmt.Errorf("signer: invalid nsec: %w", err)
		}
		sk = decoded.(string)
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid secret key: %w", err)
	}

	return &LocalSigner{sk: sk, pk: pk}, nil
}

// PublicKey implements Signer.
func (s *LocalSigner) PublicKey(ctx context.Context) (string, error) {
	return s.pk, nil
}

// Sign implements Signer.
func (s *LocalSigner) Sign(ctx context.Context, ev *nostr.Event) error {
	return ev.Sign(s.sk)
}
