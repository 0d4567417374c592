package sitemap

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSite = "https://proofofheart.org"
	testDTag = "proofofheart-charity-profile-v1"
)

type stubSource struct {
	events []*nostr.Event
	err    error
}

func (s *stubSource) Query(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	return s.events, s.err
}

func (s *stubSource) Publish(ctx context.Context, relays []string, ev *nostr.Event) error {
	return nil
}

func extension(id, pubkey string, createdAt int64, content string) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    pubkey,
		Kind:      nostr.KindApplicationSpecificData,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      nostr.Tags{nostr.Tag{"d", testDTag}},
		Content:   content,
	}
}

func TestCollectCharityEntries(t *testing.T) {
	pkA := strings.Repeat("aa", 32)
	pkB := strings.Repeat("bb", 32)
	pkC := strings.Repeat("cc", 32)

	src := &stubSource{events: []*nostr.Event{
		extension("e1", pkA, 100, `{"isVisible":true}`),
		extension("e2", pkB, 100, `{"isVisible":false}`),
		extension("e3", pkC, 100, `{not json`),
	}}

	entries, err := CollectCharityEntries(context.Background(), src,
		[]string{"wss://relay"}, testDTag, testSite, 100)
	require.NoError(t, err)

	// hidden and corrupt records are skipped
	require.Len(t, entries, 1)
	npub, _ := nip19.EncodePublicKey(pkA)
	assert.Equal(t, testSite+"/charities/"+npub, entries[0].Loc)
}

func TestCollectCharityEntriesSortedAndDeduplicated(t *testing.T) {
	pkA := strings.Repeat("aa", 32)
	pkB := strings.Repeat("bb", 32)

	src := &stubSource{events: []*nostr.Event{
		extension("e1", pkB, 100, `{}`),
		extension("e2", pkA, 100, `{}`),
		// older revision of pkA's record, superseded
		extension("e3", pkA, 50, `{"isVisible":false}`),
	}}

	entries, err := CollectCharityEntries(context.Background(), src,
		[]string{"wss://relay"}, testDTag, testSite, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Loc < entries[1].Loc)
}

func TestCollectCharityEntriesSourceFailure(t *testing.T) {
	src := &stubSource{err: assert.AnError}
	_, err := CollectCharityEntries(context.Background(), src,
		[]string{"wss://relay"}, testDTag, testSite, 100)
	assert.Error(t, err)
}

func TestBuildURLSet(t *testing.T) {
	entries := []Entry{
		{Loc: testSite + "/", LastMod: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
		{Loc: testSite + "/charities"},
	}

	body, err := BuildURLSet(entries)
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, `<?xml`)
	assert.Contains(t, s, `xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"`)
	assert.Contains(t, s, "<loc>"+testSite+"/</loc>")
	assert.Contains(t, s, "<lastmod>2026-08-01</lastmod>")
	// entries without a lastmod omit the element entirely
	assert.Equal(t, 1, strings.Count(s, "<lastmod>"))
}

func TestBuildIndex(t *testing.T) {
	body, err := BuildIndex([]string{
		testSite + "/sitemap-static.xml",
		testSite + "/sitemap-charities.xml",
	})
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, "<sitemapindex")
	assert.Equal(t, 2, strings.Count(s, "<sitemap>"))
	assert.Contains(t, s, "<loc>"+testSite+"/sitemap-charities.xml</loc>")
}

func TestStaticEntries(t *testing.T) {
	now := time.Now()
	entries := StaticEntries(testSite, now)
	require.NotEmpty(t, entries)
	assert.Equal(t, testSite+"/", entries[0].Loc)
	for _, e := range entries {
		assert.True(t, strings.HasPrefix(e.Loc, testSite))
	}
}
