// registry syncs the static YAML event-definition manifest into D-tier
// (SPEC_FULL.md §8). Run on deploy, or by hand against a fresh environment —
// repurposed from the teacher's cmd/seed, which seeded ad-hoc test jobs;
// this does the analogous "get the store into a known state" job for the
// cron registry instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/stufio-com/eventsched/config"
	"github.com/stufio-com/eventsched/internal/infrastructure/postgres"
	"github.com/stufio-com/eventsched/internal/registry"
)

func main() {
	manifestPath := flag.String("manifest", "", "path to the registry manifest YAML (defaults to REGISTRY_MANIFEST_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	path := *manifestPath
	if path == "" {
		path = cfg.RegistryManifestPath
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	manifest, err := registry.Load(path)
	if err != nil {
		log.Fatalf("load manifest: %v", err)
	}

	d := postgres.NewDocumentRepository(pool)
	syncer := registry.NewSyncer(d, logger)
	result := syncer.Sync(ctx, manifest)

	fmt.Println("Registry sync complete")
	fmt.Println()
	fmt.Printf("  Manifest:  %s\n", path)
	fmt.Printf("  Created:   %d\n", result.Created)
	fmt.Printf("  Updated:   %d\n", result.Updated)
	fmt.Printf("  Skipped:   %d\n", len(result.Skipped))

	if len(result.Skipped) > 0 {
		fmt.Println()
		fmt.Println("  Skipped entries:")
		for _, s := range result.Skipped {
			fmt.Printf("    %s: %s\n", s.Name, s.Reason)
		}
		os.Exit(1)
	}
}
