package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestName(t *testing.T) {
	pk := strings.Repeat("ab", 32)

	assert.Equal(t, "Display", ProfileMetadata{Name: "Name", DisplayName: "Display"}.BestName(pk))
	assert.Equal(t, "Legacy", ProfileMetadata{Name: "Name", AltName: "Legacy"}.BestName(pk))
	assert.Equal(t, "Name", ProfileMetadata{Name: "Name", Username: "user"}.BestName(pk))
	assert.Equal(t, "user", ProfileMetadata{Username: "user"}.BestName(pk))

	fallback := ProfileMetadata{}.BestName(pk)
	assert.True(t, strings.HasPrefix(fallback, "npub1"))
	assert.True(t, strings.HasSuffix(fallback, "…"))
}

func TestCharityFieldsRoundTripKeepsUnknownKeys(t *testing.T) {
	in := `{"category":"water","lightningAddress":"donate@charity.org","isVisible":false,"futureField":{"a":1}}`

	var fields CharityFields
	require.NoError(t, json.Unmarshal([]byte(in), &fields))
	assert.Equal(t, "water", fields.Category)
	assert.Equal(t, "donate@charity.org", fields.LightningAddress)
	assert.False(t, fields.IsVisible())
	assert.Contains(t, fields.Extra, "futureField")

	out, err := json.Marshal(fields)
	require.NoError(t, err)

	var round map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &round))
	assert.JSONEq(t, `{"a":1}`, string(round["futureField"]))
	assert.JSONEq(t, `"water"`, string(round["category"]))
}

func TestCharityFieldsVisibleDefault(t *testing.T) {
	var fields CharityFields
	require.NoError(t, json.Unmarshal([]byte(`{}`), &fields))
	assert.Nil(t, fields.Visible)
	assert.True(t, fields.IsVisible())

	require.NoError(t, json.Unmarshal([]byte(`{"isVisible":"yes"}`), &fields))
	// malformed visibility values are treated as unset
	assert.Nil(t, fields.Visible)
}

func TestCharityFieldsLayer(t *testing.T) {
	hidden := false
	base := CharityFields{
		Category:         "water",
		Description:      "Old description",
		LightningAddress: "donate@charity.org",
		Extra:            map[string]json.RawMessage{"keep": json.RawMessage(`1`)},
	}
	overlay := CharityFields{
		Description: "New description",
		Visible:     &hidden,
		Extra:       map[string]json.RawMessage{"added": json.RawMessage(`2`)},
	}

	merged := base.Layer(overlay)
	assert.Equal(t, "water", merged.Category)
	assert.Equal(t, "New description", merged.Description)
	assert.Equal(t, "donate@charity.org", merged.LightningAddress)
	assert.False(t, merged.IsVisible())
	assert.Contains(t, merged.Extra, "keep")
	assert.Contains(t, merged.Extra, "added")

	// the base is never mutated
	assert.Equal(t, "Old description", base.Description)
	assert.NotContains(t, base.Extra, "added")
}

func TestDonationAddressFallback(t *testing.T) {
	c := CharityProfile{Lud16: "profile@wallet.com"}
	assert.Equal(t, "profile@wallet.com", c.DonationAddress())

	c.Charity.LightningAddress = "donate@charity.org"
	assert.Equal(t, "donate@charity.org", c.DonationAddress())
}

func TestRatingTallyAverage(t *testing.T) {
	assert.Equal(t, 0.0, RatingTally{}.Average())
	assert.InDelta(t, 4.0, RatingTally{Sum: 12, Count: 3}.Average(), 0.001)
}
