package models

import (
	"encoding/json"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// Event kinds specific to the charity directory. Standard kinds
// (profile metadata, follow lists, reports, zap receipts) come from go-nostr.
const (
	// KindCharityRating is the app-specific rating event, one per
	// (rater, subject) pair via its d tag.
	KindCharityRating = 30079
)

// ProfileMetadata is the field-wise merged view of an author's kind-0
// events. Each field holds the most recent non-empty value published for
// it; an older event never overwrites a field and a newer event's missing
// field never blanks one out.
type ProfileMetadata struct {
	Name        string
	DisplayName string // "display_name"
	AltName     string // legacy "displayName"
	Username    string
	About       string
	Picture     string
	Banner      string
	Website     string
	NIP05       string
	Lud06       string
	Lud16       string
}

// BestName resolves the display name for a subject, falling back to a
// truncated npub when no metadata field is populated.
func (p ProfileMetadata) BestName(pubkey string) string {
	for _, candidate := range []string{p.DisplayName, p.AltName, p.Name, p.Username} {
		if candidate != "" {
			return candidate
		}
	}
	return TruncatedNpub(pubkey)
}

// TruncatedNpub renders a short human-readable form of a public key.
func TruncatedNpub(pubkey string) string {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil || len(npub) < 16 {
		if len(pubkey) > 12 {
			return pubkey[:12] + "…"
		}
		return pubkey
	}
	return npub[:16] + "…"
}

// CharityFields is the content schema of a charity extension event.
// Unrecognized keys are carried in Extra so that a load-modify-save cycle
// never discards fields another client version wrote.
type CharityFields struct {
	ShortDescription string
	Description      string
	Country          string
	Category         string
	DonationMessage  string
	LightningAddress string
	Visible          *bool // isVisible, nil means unset (treated as visible)

	Extra map[string]json.RawMessage
}

var charityFieldKeys = map[string]bool{
	"shortDescription": true,
	"description":      true,
	"country":          true,
	"category":         true,
	"donationMessage":  true,
	"lightningAddress": true,
	"isVisible":        true,
}

// IsVisible reports the explicit visibility flag, defaulting to visible.
func (f CharityFields) IsVisible() bool {
	return f.Visible == nil || *f.Visible
}

// Layer returns a copy of f with every set field of overlay applied on
// top. Empty overlay strings and a nil overlay Visible leave the base
// value in place, so editors can publish partial updates safely.
func (f CharityFields) Layer(overlay CharityFields) CharityFields {
	out := f

	if overlay.ShortDescription != "" {
		out.ShortDescription = overlay.ShortDescription
	}
	if overlay.Description != "" {
		out.Description = overlay.Description
	}
	if overlay.Country != "" {
		out.Country = overlay.Country
	}
	if overlay.Category != "" {
		out.Category = overlay.Category
	}
	if overlay.DonationMessage != "" {
		out.DonationMessage = overlay.DonationMessage
	}
	if overlay.LightningAddress != "" {
		out.LightningAddress = overlay.LightningAddress
	}
	if overlay.Visible != nil {
		v := *overlay.Visible
		out.Visible = &v
	}

	if len(overlay.Extra) > 0 {
		merged := make(map[string]json.RawMessage, len(f.Extra)+len(overlay.Extra))
		for k, v := range f.Extra {
			merged[k] = v
		}
		for k, v := range overlay.Extra {
			merged[k] = v
		}
		out.Extra = merged
	}

	return out
}

// UnmarshalJSON decodes the recognized keys field-by-field and keeps
// everything else verbatim in Extra.
func (f *CharityFields) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	str := func(key string) string {
		var s string
		if v, ok := raw[key]; ok {
			// malformed values are treated as absent
			_ = json.Unmarshal(v, &s)
		}
		return s
	}

	f.ShortDescription = str("shortDescription")
	f.Description = str("description")
	f.Country = str("country")
	f.Category = str("category")
	f.DonationMessage = str("donationMessage")
	f.LightningAddress = str("lightningAddress")

	f.Visible = nil
	if v, ok := raw["isVisible"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			f.Visible = &b
		}
	}

	f.Extra = nil
	for k, v := range raw {
		if charityFieldKeys[k] {
			continue
		}
		if f.Extra == nil {
			f.Extra = map[string]json.RawMessage{}
		}
		f.Extra[k] = v
	}

	return nil
}

// MarshalJSON emits the recognized keys plus every preserved Extra key.
func (f CharityFields) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 7+len(f.Extra))
	for k, v := range f.Extra {
		out[k] = v
	}
	out["shortDescription"] = f.ShortDescription
	out["description"] = f.Description
	out["country"] = f.Country
	out["category"] = f.Category
	out["donationMessage"] = f.DonationMessage
	out["lightningAddress"] = f.LightningAddress
	out["isVisible"] = f.IsVisible()
	return json.Marshal(out)
}

// RatingTally accumulates rating events for one subject.
type RatingTally struct {
	Sum   int
	Count int
}

// Average returns sum/count, or 0 when no valid rating exists.
func (t RatingTally) Average() float64 {
	if t.Count == 0 {
		return 0
	}
	return float64(t.Sum) / float64(t.Count)
}

// CharityProfile is the aggregated, ephemeral view of one charity. It is
// recomputed on every aggregation run and never persisted.
type CharityProfile struct {
	Pubkey      string        `json:"pubkey"`
	Npub        string        `json:"npub"`
	Name        string        `json:"name"`
	About       string        `json:"about"`
	Picture     string        `json:"picture,omitempty"`
	Website     string        `json:"website,omitempty"`
	Lud06       string        `json:"lud06,omitempty"`
	Lud16       string        `json:"lud16,omitempty"`
	Followers   int           `json:"followers"`
	Flags       int           `json:"flags"`
	Hidden      bool          `json:"hidden"`
	RatingAvg   float64       `json:"ratingAvg"`
	RatingCount int           `json:"ratingCount"`
	ZappedSats  int64         `json:"zappedSats"`
	Charity     CharityFields `json:"charity"`
}

// DonationAddress returns the address donations should go to: the
// extension's lightning address first, the profile lud16 as fallback.
func (c CharityProfile) DonationAddress() string {
	if c.Charity.LightningAddress != "" {
		return c.Charity.LightningAddress
	}
	return c.Lud16
}

// Listed reports whether the charity appears in the public directory:
// explicitly visible and not hidden by flag consensus.
func (c CharityProfile) Listed() bool {
	return c.Charity.IsVisible() && !c.Hidden
}

// Insights summarizes the directory for the admin view.
type Insights struct {
	TotalCharities   int              `json:"totalCharities"`
	VisibleCharities int              `json:"visibleCharities"`
	HiddenCharities  int              `json:"hiddenCharities"`
	TotalFollowers   int              `json:"totalFollowers"`
	TotalFlags       int              `json:"totalFlags"`
	TotalRatings     int              `json:"totalRatings"`
	TotalZappedSats  int64            `json:"totalZappedSats"`
	TopByZaps        []CharityProfile `json:"topByZaps"`
	TopByFollowers   []CharityProfile `json:"topByFollowers"`
	Flagged          []CharityProfile `json:"flagged"`
}
