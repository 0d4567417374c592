// Package sitemap builds the static sitemap files for the public site:
// one for the fixed pages, one for the charity detail pages discovered
// on the relay network, and an index tying them together.
package sitemap

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/Jacob-Jan/proof-of-heart/internal/directory"
	"github.com/Jacob-Jan/proof-of-heart/internal/merge"
	"github.com/Jacob-Jan/proof-of-heart/internal/models"
)

// Entry is a single <url> element.
type Entry struct {
	Loc     string
	LastMod time.Time
}

type xmlURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []xmlURL `xml:"url"`
}

type xmlSitemap struct {
	Loc string `xml:"loc"`
}

type xmlIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Xmlns    string       `xml:"xmlns,attr"`
	Sitemaps []xmlSitemap `xml:"sitemap"`
}

const xmlns = "http://www.sitemaps.org/schemas/sitemap/0.9"

// StaticEntries returns the fixed public pages under siteURL.
func StaticEntries(siteURL string, now time.Time) []Entry {
	paths := []string{"/", "/charities", "/about", "/insights"}
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, Entry{Loc: siteURL + p, LastMod: now})
	}
	return entries
}

// CollectCharityEntries queries the relay network for published charity
// extension records and returns a detail-page entry per visible charity,
// sorted by location for reproducible output.
func CollectCharityEntries(ctx context.Context, src directory.EventSource, relays []string, dtag, siteURL string, limit int) ([]Entry, error) {
	events, err := src.Query(ctx, relays, nostr.Filter{
		Kinds: []int{nostr.KindApplicationSpecificData},
		Tags:  nostr.TagMap{"d": []string{dtag}},
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("charity extension query: %w", err)
	}

	entries := make([]Entry, 0, len(events))
	for author, ev := range merge.LatestByAuthor(events) {
		var fields models.CharityFields
		if err := json.Unmarshal([]byte(ev.Content), &fields); err != nil {
			continue
		}
		if !fields.IsVisible() {
			continue
		}
		npub, err := nip19.EncodePublicKey(author)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Loc:     siteURL + "/charities/" + npub,
			LastMod: ev.CreatedAt.Time(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Loc < entries[j].Loc })
	return entries, nil
}

// BuildURLSet renders entries as a sitemap urlset document.
func BuildURLSet(entries []Entry) ([]byte, error) {
	set := xmlURLSet{Xmlns: xmlns}
	for _, e := range entries {
		u := xmlURL{Loc: e.Loc}
		if !e.LastMod.IsZero() {
			u.LastMod = e.LastMod.UTC().Format("2006-01-02")
		}
		set.URLs = append(set.URLs, u)
	}
	return marshalXML(set)
}

// BuildIndex renders a sitemap index referencing the given sitemap URLs.
func BuildIndex(locs []string) ([]byte, error) {
	idx := xmlIndex{Xmlns: xmlns}
	for _, loc := range locs {
		idx.Sitemaps = append(idx.Sitemaps, xmlSitemap{Loc: loc})
	}
	return marshalXML(idx)
}

func marshalXML(v any) ([]byte, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode sitemap: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}
