package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jacob-Jan/proof-of-heart/internal/cache"
	"github.com/Jacob-Jan/proof-of-heart/internal/directory"
	"github.com/Jacob-Jan/proof-of-heart/internal/models"
	"github.com/Jacob-Jan/proof-of-heart/internal/relays"
	"github.com/Jacob-Jan/proof-of-heart/internal/session"
)

const testDTag = "proofofheart-charity-profile-v1"

var (
	pkA = strings.Repeat("aa", 32)
	pkB = strings.Repeat("bb", 32)
)

type stubSource struct {
	events map[int][]*nostr.Event
	errs   map[int]error

	mu      sync.Mutex
	queries map[int]int
}

func (s *stubSource) Query(ctx context.Context, relayURLs []string, filter nostr.Filter) ([]*nostr.Event, error) {
	kind := filter.Kinds[0]

	s.mu.Lock()
	if s.queries == nil {
		s.queries = make(map[int]int)
	}
	s.queries[kind]++
	s.mu.Unlock()

	if err := s.errs[kind]; err != nil {
		return nil, err
	}
	return s.events[kind], nil
}

func (s *stubSource) queryCount(kind int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[kind]
}

func (s *stubSource) Publish(ctx context.Context, relayURLs []string, ev *nostr.Event) error {
	return nil
}

func extension(id, pubkey string, content string) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    pubkey,
		Kind:      nostr.KindApplicationSpecificData,
		CreatedAt: 100,
		Tags:      nostr.Tags{nostr.Tag{"d", testDTag}},
		Content:   content,
	}
}

func newTestServer(t *testing.T, src directory.EventSource) *httptest.Server {
	t.Helper()

	sessions, err := session.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	policy := relays.NewPolicy(
		[]string{"wss://prod.example"}, []string{"ws://127.0.0.1:7777"}, false, sessions)
	svc := directory.New(src, nil, testDTag)
	h := New(svc, policy, cache.New(time.Minute), sessions, 50)

	mux := http.NewServeMux()
	h.Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, &stubSource{})

	var health HealthResponse
	status := getJSON(t, server.URL+"/health", &health)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "auto", health.RelayMode)
}

func TestCharitiesListFiltersHidden(t *testing.T) {
	src := &stubSource{events: map[int][]*nostr.Event{
		nostr.KindApplicationSpecificData: {
			extension("e1", pkA, `{"category":"water","isVisible":true}`),
			extension("e2", pkB, `{"isVisible":false}`),
		},
	}}
	server := newTestServer(t, src)

	var charities []models.CharityProfile
	status := getJSON(t, server.URL+"/charities", &charities)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, charities, 1)
	assert.Equal(t, pkA, charities[0].Pubkey)
}

func TestCharitiesCategoryFilter(t *testing.T) {
	src := &stubSource{events: map[int][]*nostr.Event{
		nostr.KindApplicationSpecificData: {
			extension("e1", pkA, `{"category":"water"}`),
			extension("e2", pkB, `{"category":"education"}`),
		},
	}}
	server := newTestServer(t, src)

	var charities []models.CharityProfile
	status := getJSON(t, server.URL+"/charities?category=WATER", &charities)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, charities, 1)
	assert.Equal(t, "water", charities[0].Charity.Category)
}

func TestCharityDetailByNpub(t *testing.T) {
	src := &stubSource{events: map[int][]*nostr.Event{
		nostr.KindApplicationSpecificData: {extension("e1", pkA, `{}`)},
	}}
	server := newTestServer(t, src)

	npub, err := nip19.EncodePublicKey(pkA)
	require.NoError(t, err)

	var charity models.CharityProfile
	status := getJSON(t, server.URL+"/charities/"+npub, &charity)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, pkA, charity.Pubkey)

	status = getJSON(t, server.URL+"/charities/"+strings.Repeat("dd", 32), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCharityDetailServedFromCachedList(t *testing.T) {
	src := &stubSource{events: map[int][]*nostr.Event{
		nostr.KindApplicationSpecificData: {extension("e1", pkA, `{}`)},
	}}
	server := newTestServer(t, src)

	for range 3 {
		status := getJSON(t, server.URL+"/charities/"+pkA, nil)
		require.Equal(t, http.StatusOK, status)
	}

	// one aggregation run serves every request within the TTL
	assert.Equal(t, 1, src.queryCount(nostr.KindApplicationSpecificData))
}

func TestCharityDonation(t *testing.T) {
	src := &stubSource{events: map[int][]*nostr.Event{
		nostr.KindApplicationSpecificData: {
			extension("e1", pkA, `{"lightningAddress":"donate@charity.org"}`),
			extension("e2", pkB, `{}`),
		},
	}}
	server := newTestServer(t, src)

	var donation DonationResponse
	status := getJSON(t, server.URL+"/charities/"+pkA+"/donation", &donation)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "donate@charity.org", donation.Address)
	assert.Equal(t, "https://charity.org/.well-known/lnurlp/donate", donation.PayEndpoint)

	// no lightning address anywhere on the profile
	status = getJSON(t, server.URL+"/charities/"+pkB+"/donation", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRatingWithoutSigner(t *testing.T) {
	src := &stubSource{events: map[int][]*nostr.Event{
		nostr.KindApplicationSpecificData: {extension("e1", pkA, `{}`)},
	}}
	server := newTestServer(t, src)

	resp, err := http.Post(server.URL+"/charities/"+pkA+"/rating",
		"application/json", strings.NewReader(`{"rating":5}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSettingsRoundTrip(t *testing.T) {
	server := newTestServer(t, &stubSource{})

	var settings SettingsResponse
	status := getJSON(t, server.URL+"/settings", &settings)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "auto", settings.RelayMode)

	req, err := http.NewRequest(http.MethodPut, server.URL+"/settings",
		strings.NewReader(`{"relayMode":"test"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status = getJSON(t, server.URL+"/settings", &settings)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "test", settings.RelayMode)
	assert.Equal(t, []string{"ws://127.0.0.1:7777"}, settings.ReadRelays)
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, &stubSource{})

	resp, err := http.Post(server.URL+"/health", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
