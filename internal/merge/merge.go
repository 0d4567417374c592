// Package merge collapses raw relay events into per-kind authoritative
// views. All functions are pure, order-independent and idempotent with
// respect to duplicate delivery of the same event id, so the aggregation
// result depends only on the set of fetched events.
package merge

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/Jacob-Jan/proof-of-heart/internal/lightning"
	"github.com/Jacob-Jan/proof-of-heart/internal/models"
)

// Newer reports whether a supersedes b. Ties on created_at are broken by
// the larger event id, so replicas disagree never.
func Newer(a, b *nostr.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

// LatestByAuthor keeps only the newest event per author. Used for
// whole-record-replace kinds (charity extension, follow lists).
func LatestByAuthor(events []*nostr.Event) map[string]*nostr.Event {
	latest := make(map[string]*nostr.Event)
	for _, ev := range events {
		if prev, ok := latest[ev.PubKey]; !ok || Newer(ev, prev) {
			latest[ev.PubKey] = ev
		}
	}
	return latest
}

// firstTagValue returns the second element of the first tag named name.
func firstTagValue(ev *nostr.Event, name string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Profiles merges kind-0 metadata events field-wise: per author, events
// are walked newest-first and each recognized field takes its value from
// the first event where it is present and non-empty.
func Profiles(events []*nostr.Event) map[string]models.ProfileMetadata {
	byAuthor := make(map[string][]*nostr.Event)
	for _, ev := range events {
		byAuthor[ev.PubKey] = append(byAuthor[ev.PubKey], ev)
	}

	merged := make(map[string]models.ProfileMetadata, len(byAuthor))
	for author, evs := range byAuthor {
		sort.Slice(evs, func(i, j int) bool { return Newer(evs[i], evs[j]) })

		var p models.ProfileMetadata
		for _, ev := range evs {
			var raw map[string]json.RawMessage
			if err := json.Unmarshal([]byte(ev.Content), &raw); err != nil {
				continue // corrupt metadata content, drop this event
			}
			fill := func(dst *string, key string) {
				if *dst != "" {
					return
				}
				var s string
				if v, ok := raw[key]; ok && json.Unmarshal(v, &s) == nil {
					*dst = s
				}
			}
			fill(&p.Name, "name")
			fill(&p.DisplayName, "display_name")
			fill(&p.AltName, "displayName")
			fill(&p.Username, "username")
			fill(&p.About, "about")
			fill(&p.Picture, "picture")
			fill(&p.Banner, "banner")
			fill(&p.Website, "website")
			fill(&p.NIP05, "nip05")
			fill(&p.Lud06, "lud06")
			fill(&p.Lud16, "lud16")
		}
		merged[author] = p
	}

	return merged
}

// ActiveFlaggers reduces report events to subject -> set of reporters
// whose most recent report is still active. A status tag of "0" withdraws
// the flag; a missing status tag counts as active (legacy reports carried
// none).
func ActiveFlaggers(reports []*nostr.Event) map[string]map[string]bool {
	type pair struct{ reporter, subject string }
	latest := make(map[pair]*nostr.Event)

	for _, ev := range reports {
		subject := firstTagValue(ev, "p")
		if subject == "" {
			continue
		}
		key := pair{ev.PubKey, subject}
		if prev, ok := latest[key]; !ok || Newer(ev, prev) {
			latest[key] = ev
		}
	}

	active := make(map[string]map[string]bool)
	for key, ev := range latest {
		withdrawn := false
		for _, tag := range ev.Tags {
			if len(tag) >= 2 && tag[0] == "status" && tag[1] == "0" {
				withdrawn = true
				break
			}
		}
		if withdrawn {
			continue
		}
		if active[key.subject] == nil {
			active[key.subject] = make(map[string]bool)
		}
		active[key.subject][key.reporter] = true
	}

	return active
}

// FollowerSets reduces kind-3 follow lists to subject -> set of distinct
// followers. Only each author's latest list counts; the follower count is
// the cardinality of the set, not the number of events.
func FollowerSets(follows []*nostr.Event) map[string]map[string]bool {
	followers := make(map[string]map[string]bool)
	for author, ev := range LatestByAuthor(follows) {
		for _, tag := range ev.Tags {
			if len(tag) < 2 || tag[0] != "p" || tag[1] == "" {
				continue
			}
			subject := tag[1]
			if followers[subject] == nil {
				followers[subject] = make(map[string]bool)
			}
			followers[subject][author] = true
		}
	}
	return followers
}

// RatingTallies accumulates rating events per subject. Every qualifying
// event contributes; there is no per-author dedup. Events whose rating tag
// is non-numeric or outside [1,5] are dropped, and the same event id is
// never counted twice.
func RatingTallies(ratings []*nostr.Event) map[string]models.RatingTally {
	tallies := make(map[string]models.RatingTally)
	seen := make(map[string]bool, len(ratings))

	for _, ev := range ratings {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true

		subject := firstTagValue(ev, "p")
		if subject == "" {
			continue
		}
		value, err := strconv.Atoi(firstTagValue(ev, "rating"))
		if err != nil || value < 1 || value > 5 {
			continue
		}

		t := tallies[subject]
		t.Sum += value
		t.Count++
		tallies[subject] = t
	}

	return tallies
}

// ZapTotals sums zap receipts per subject in sats. Each receipt's
// millisat amount is floored to sats before summing, receipts from the
// same payer all count, and duplicate event ids count once.
func ZapTotals(zaps []*nostr.Event) map[string]int64 {
	totals := make(map[string]int64)
	seen := make(map[string]bool, len(zaps))

	for _, ev := range zaps {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true

		subject := firstTagValue(ev, "p")
		if subject == "" {
			continue
		}
		msat, err := strconv.ParseInt(firstTagValue(ev, "amount"), 10, 64)
		if err != nil || msat <= 0 {
			continue
		}

		totals[subject] += lightning.MsatToSats(msat)
	}

	return totals
}
