// Package directory is the aggregation engine: it gathers the
// independently published event streams that make up a charity profile
// (extension records, identity metadata, reports, ratings, follows, zap
// receipts), folds them into unified records and produces a
// deterministically ranked list. It also publishes the directory's own
// event kinds through the injected signing capability.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/Jacob-Jan/proof-of-heart/internal/merge"
	"github.com/Jacob-Jan/proof-of-heart/internal/models"
	"github.com/Jacob-Jan/proof-of-heart/internal/signer"
)

// FlagHideThreshold is the number of distinct active reporters that hides
// a charity from the public list.
const FlagHideThreshold = 3

const defaultLimit = 100

// EventSource is the network boundary the engine reads and writes through.
type EventSource interface {
	Query(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
	Publish(ctx context.Context, relays []string, ev *nostr.Event) error
}

// RelaySet carries the endpoint sets one aggregation run uses. The engine
// never consults preference storage itself.
type RelaySet struct {
	App      []string // app-specific event reads
	Identity []string // generic profile-metadata reads
}

// Service aggregates charity data and publishes directory events.
type Service struct {
	source EventSource
	signer signer.Signer // nil when no signing capability is present
	dtag   string
}

// New creates a Service. sgn may be nil; write operations will then fail
// with signer.ErrNoSigner.
func New(src EventSource, sgn signer.Signer, dtag string) *Service {
	return &Service{source: src, signer: sgn, dtag: dtag}
}

// LoadCharities queries all relevant kinds and returns the ranked charity
// list. Only authors with a published charity extension participate;
// metadata-only authors are excluded. A failed driving query surfaces the
// source error; an empty network response is simply zero charities.
func (s *Service) LoadCharities(ctx context.Context, rel RelaySet, limit int) ([]models.CharityProfile, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	extensions, err := s.source.Query(ctx, rel.App, nostr.Filter{
		Kinds: []int{nostr.KindApplicationSpecificData},
		Tags:  nostr.TagMap{"d": []string{s.dtag}},
		Limit: limit * 2,
	})
	if err != nil {
		return nil, fmt.Errorf("charity extension query: %w", err)
	}

	latestExt := merge.LatestByAuthor(extensions)
	if len(latestExt) == 0 {
		return []models.CharityProfile{}, nil
	}

	subjects := make([]string, 0, len(latestExt))
	for pubkey := range latestExt {
		subjects = append(subjects, pubkey)
	}

	// The five subject-keyed queries have no dependency on each other and
	// run concurrently; each failure degrades to an empty slice.
	var metaEvents, reportEvents, ratingEvents, followEvents, zapEvents []*nostr.Event
	queries := []struct {
		name   string
		relays []string
		filter nostr.Filter
		dst    *[]*nostr.Event
	}{
		{"metadata", rel.Identity, nostr.Filter{
			Kinds:   []int{nostr.KindProfileMetadata},
			Authors: subjects,
			Limit:   limit * 2,
		}, &metaEvents},
		{"reports", rel.App, nostr.Filter{
			Kinds: []int{nostr.KindReporting},
			Tags:  nostr.TagMap{"p": subjects},
			Limit: limit * 10,
		}, &reportEvents},
		{"ratings", rel.App, nostr.Filter{
			Kinds: []int{models.KindCharityRating},
			Tags:  nostr.TagMap{"p": subjects},
			Limit: limit * 10,
		}, &ratingEvents},
		{"follows", rel.App, nostr.Filter{
			Kinds: []int{nostr.KindFollowList},
			Tags:  nostr.TagMap{"p": subjects},
			Limit: limit * 50,
		}, &followEvents},
		{"zaps", rel.App, nostr.Filter{
			Kinds: []int{nostr.KindZap},
			Tags:  nostr.TagMap{"p": subjects},
			Limit: limit * 10,
		}, &zapEvents},
	}

	var wg sync.WaitGroup
	for _, q := range queries {
		wg.Add(1)
		go func(name string, relays []string, filter nostr.Filter, dst *[]*nostr.Event) {
			defer wg.Done()
			events, err := s.source.Query(ctx, relays, filter)
			if err != nil {
				log.Printf("[DIRECTORY] %s query failed, continuing without: %v", name, err)
				return
			}
			*dst = events
		}(q.name, q.relays, q.filter, q.dst)
	}
	wg.Wait()

	profiles := merge.Profiles(metaEvents)
	flaggers := merge.ActiveFlaggers(reportEvents)
	followers := merge.FollowerSets(followEvents)
	ratings := merge.RatingTallies(ratingEvents)
	zaps := merge.ZapTotals(zapEvents)

	charities := make([]models.CharityProfile, 0, len(latestExt))
	for author, ev := range latestExt {
		var fields models.CharityFields
		if err := json.Unmarshal([]byte(ev.Content), &fields); err != nil {
			// corrupt extension content degrades to an empty record
			fields = models.CharityFields{}
		}

		meta := profiles[author]
		flagCount := len(flaggers[author])
		tally := ratings[author]

		npub, err := nip19.EncodePublicKey(author)
		if err != nil {
			continue
		}

		charities = append(charities, models.CharityProfile{
			Pubkey:      author,
			Npub:        npub,
			Name:        meta.BestName(author),
			About:       meta.About,
			Picture:     meta.Picture,
			Website:     meta.Website,
			Lud06:       meta.Lud06,
			Lud16:       meta.Lud16,
			Followers:   len(followers[author]),
			Flags:       flagCount,
			Hidden:      flagCount >= FlagHideThreshold,
			RatingAvg:   tally.Average(),
			RatingCount: tally.Count,
			ZappedSats:  zaps[author],
			Charity:     fields,
		})
	}

	rankCharities(charities)
	return charities, nil
}

// rankCharities orders the list: visible before hidden, then followers
// descending, then average rating descending. Exact ties keep a stable,
// reproducible order (pubkey ascending).
func rankCharities(charities []models.CharityProfile) {
	sort.Slice(charities, func(i, j int) bool {
		return charities[i].Pubkey < charities[j].Pubkey
	})
	sort.SliceStable(charities, func(i, j int) bool {
		a, b := charities[i], charities[j]
		if a.Hidden != b.Hidden {
			return !a.Hidden
		}
		if a.Followers != b.Followers {
			return a.Followers > b.Followers
		}
		return a.RatingAvg > b.RatingAvg
	})
}

// Lookup resolves an npub or hex pubkey against an already aggregated
// list, so callers holding a cached list do not re-query the network.
// Returns nil when the subject is not in the list.
func Lookup(charities []models.CharityProfile, idParam string) *models.CharityProfile {
	resolved := strings.TrimSpace(idParam)
	if strings.HasPrefix(resolved, "npub1") {
		if prefix, value, err := nip19.Decode(resolved); err == nil && prefix == "npub" {
			if pubkey, ok := value.(string); ok {
				resolved = pubkey
			}
		}
	}

	for i := range charities {
		if charities[i].Pubkey == resolved || charities[i].Npub == idParam {
			return &charities[i]
		}
	}
	return nil
}

// FindCharity resolves an npub or hex pubkey and returns the matching
// aggregated profile, or nil when the subject is unknown.
func (s *Service) FindCharity(ctx context.Context, rel RelaySet, idParam string) (*models.CharityProfile, error) {
	charities, err := s.LoadCharities(ctx, rel, 300)
	if err != nil {
		return nil, err
	}
	return Lookup(charities, idParam), nil
}

// Insights aggregates directory-wide statistics for the admin view.
func (s *Service) Insights(ctx context.Context, rel RelaySet, limit int) (*models.Insights, error) {
	charities, err := s.LoadCharities(ctx, rel, limit)
	if err != nil {
		return nil, err
	}

	insights := &models.Insights{TotalCharities: len(charities)}
	for _, c := range charities {
		if c.Listed() {
			insights.VisibleCharities++
		} else {
			insights.HiddenCharities++
		}
		insights.TotalFollowers += c.Followers
		insights.TotalFlags += c.Flags
		insights.TotalRatings += c.RatingCount
		insights.TotalZappedSats += c.ZappedSats
	}

	insights.TopByZaps = topBy(charities, 8, func(a, b models.CharityProfile) bool {
		return a.ZappedSats > b.ZappedSats
	})
	insights.TopByFollowers = topBy(charities, 8, func(a, b models.CharityProfile) bool {
		return a.Followers > b.Followers
	})
	flagged := make([]models.CharityProfile, 0)
	for _, c := range charities {
		if c.Flags > 0 {
			flagged = append(flagged, c)
		}
	}
	insights.Flagged = topBy(flagged, 8, func(a, b models.CharityProfile) bool {
		return a.Flags > b.Flags
	})

	return insights, nil
}

func topBy(charities []models.CharityProfile, n int, less func(a, b models.CharityProfile) bool) []models.CharityProfile {
	sorted := make([]models.CharityProfile, len(charities))
	copy(sorted, charities)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// signEvent builds and signs an event, or fails with signer.ErrNoSigner
// when no capability is configured.
func (s *Service) signEvent(ctx context.Context, kind int, tags nostr.Tags, content string) (*nostr.Event, error) {
	if s.signer == nil {
		return nil, signer.ErrNoSigner
	}
	ev := &nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   content,
	}
	if err := s.signer.Sign(ctx, ev); err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}
	return ev, nil
}

// PublishExtension signs and publishes a charity extension record with
// the given content, replacing the author's previous one. Callers that
// edit an existing record should go through UpdateExtension so unknown
// fields survive the round trip.
func (s *Service) PublishExtension(ctx context.Context, write []string, fields models.CharityFields) (string, error) {
	content, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode extension content: %w", err)
	}
	ev, err := s.signEvent(ctx, nostr.KindApplicationSpecificData,
		nostr.Tags{nostr.Tag{"d", s.dtag}}, string(content))
	if err != nil {
		return "", err
	}
	if err := s.source.Publish(ctx, write, ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}

// LoadOwnExtension fetches the signing identity's current extension
// record. The second return reports whether one exists.
func (s *Service) LoadOwnExtension(ctx context.Context, read []string) (models.CharityFields, bool, error) {
	if s.signer == nil {
		return models.CharityFields{}, false, signer.ErrNoSigner
	}
	pubkey, err := s.signer.PublicKey(ctx)
	if err != nil {
		return models.CharityFields{}, false, fmt.Errorf("resolve signer pubkey: %w", err)
	}

	events, err := s.source.Query(ctx, read, nostr.Filter{
		Kinds:   []int{nostr.KindApplicationSpecificData},
		Authors: []string{pubkey},
		Tags:    nostr.TagMap{"d": []string{s.dtag}},
		Limit:   5,
	})
	if err != nil {
		return models.CharityFields{}, false, err
	}

	latest, ok := merge.LatestByAuthor(events)[pubkey]
	if !ok {
		return models.CharityFields{}, false, nil
	}

	var fields models.CharityFields
	if err := json.Unmarshal([]byte(latest.Content), &fields); err != nil {
		return models.CharityFields{}, true, nil
	}
	return fields, true, nil
}

// UpdateExtension layers overlay on top of the currently published
// record and publishes the result, preserving fields (including
// unrecognized keys) the overlay does not set.
func (s *Service) UpdateExtension(ctx context.Context, read, write []string, overlay models.CharityFields) (string, error) {
	existing, _, err := s.LoadOwnExtension(ctx, read)
	if err != nil {
		return "", err
	}
	merged := existing.Layer(overlay)
	if merged.Visible == nil {
		visible := true
		merged.Visible = &visible
	}
	return s.PublishExtension(ctx, write, merged)
}

// EnsureExtension publishes a default, visible extension record when the
// signing identity has none yet. Used during onboarding.
func (s *Service) EnsureExtension(ctx context.Context, read, write []string) error {
	_, exists, err := s.LoadOwnExtension(ctx, read)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	visible := true
	_, err = s.PublishExtension(ctx, write, models.CharityFields{Visible: &visible})
	return err
}

// Onboard makes sure the signing identity has a published, visible
// extension record and returns its pubkey.
func (s *Service) Onboard(ctx context.Context, read, write []string) (string, error) {
	if s.signer == nil {
		return "", signer.ErrNoSigner
	}
	pubkey, err := s.signer.PublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve signer pubkey: %w", err)
	}
	if err := s.EnsureExtension(ctx, read, write); err != nil {
		return "", err
	}
	return pubkey, nil
}

// PublishRating publishes a 1-5 rating for a subject. Out-of-range input
// is clamped before signing.
func (s *Service) PublishRating(ctx context.Context, write []string, subject string, rating int, note string) (string, error) {
	if !nostr.IsValidPublicKey(subject) {
		return "", fmt.Errorf("invalid subject public key")
	}
	if rating < 1 {
		rating = 1
	}
	if rating > 5 {
		rating = 5
	}

	ev, err := s.signEvent(ctx, models.KindCharityRating, nostr.Tags{
		nostr.Tag{"p", subject},
		nostr.Tag{"d", "rating:" + subject},
		nostr.Tag{"rating", strconv.Itoa(rating)},
	}, note)
	if err != nil {
		return "", err
	}
	if err := s.source.Publish(ctx, write, ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}

// PublishReport flags a subject with a reason (spam, impersonation,
// scam). The flag stays active until the same reporter withdraws it.
func (s *Service) PublishReport(ctx context.Context, write []string, subject, reason, note string) (string, error) {
	if !nostr.IsValidPublicKey(subject) {
		return "", fmt.Errorf("invalid subject public key")
	}
	if reason == "" {
		reason = "scam"
	}
	if note == "" {
		note = "Report reason: " + reason
	}

	ev, err := s.signEvent(ctx, nostr.KindReporting, nostr.Tags{
		nostr.Tag{"p", subject, reason},
	}, note)
	if err != nil {
		return "", err
	}
	if err := s.source.Publish(ctx, write, ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}

// WithdrawReport publishes a newer report with status "0", deactivating
// the reporter's flag on the subject.
func (s *Service) WithdrawReport(ctx context.Context, write []string, subject string) (string, error) {
	if !nostr.IsValidPublicKey(subject) {
		return "", fmt.Errorf("invalid subject public key")
	}

	ev, err := s.signEvent(ctx, nostr.KindReporting, nostr.Tags{
		nostr.Tag{"p", subject},
		nostr.Tag{"status", "0"},
	}, "")
	if err != nil {
		return "", err
	}
	if err := s.source.Publish(ctx, write, ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}
