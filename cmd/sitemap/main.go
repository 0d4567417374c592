// Command sitemap regenerates the public sitemap files. It is meant to
// run periodically (cron); an unreachable relay network degrades to the
// static pages instead of failing the whole run.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Jacob-Jan/proof-of-heart/config"
	"github.com/Jacob-Jan/proof-of-heart/internal/sitemap"
	"github.com/Jacob-Jan/proof-of-heart/internal/source"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	outDir := flag.String("out", ".", "directory to write sitemap files into")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[SITEMAP] Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	now := time.Now().UTC()
	static := sitemap.StaticEntries(cfg.SiteURL, now)

	adapter := source.NewAdapter(ctx)
	charities, err := sitemap.CollectCharityEntries(ctx, adapter,
		cfg.ProdRelays, cfg.ExtensionDTag, cfg.SiteURL, cfg.QueryLimit*2)
	if err != nil {
		log.Printf("[SITEMAP] Charity collection failed, writing static pages only: %v", err)
		charities = nil
	}
	log.Printf("[SITEMAP] Collected %d static and %d charity entries", len(static), len(charities))

	files := map[string][]byte{}

	if files["sitemap-static.xml"], err = sitemap.BuildURLSet(static); err != nil {
		log.Fatalf("[SITEMAP] Failed to build static urlset: %v", err)
	}

	indexLocs := []string{cfg.SiteURL + "/sitemap-static.xml"}
	if len(charities) > 0 {
		if files["sitemap-charities.xml"], err = sitemap.BuildURLSet(charities); err != nil {
			log.Fatalf("[SITEMAP] Failed to build charity urlset: %v", err)
		}
		indexLocs = append(indexLocs, cfg.SiteURL+"/sitemap-charities.xml")
	}

	if files["sitemap.xml"], err = sitemap.BuildIndex(indexLocs); err != nil {
		log.Fatalf("[SITEMAP] Failed to build index: %v", err)
	}

	for name, body := range files {
		path := filepath.Join(*outDir, name)
		if err := os.WriteFile(path, body, 0o644); err != nil {
			log.Fatalf("[SITEMAP] Failed to write %s: %v", path, err)
		}
		log.Printf("[SITEMAP] Wrote %s (%d bytes)", path, len(body))
	}
}
