package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/storyreel/worker/internal/db"
	"github.com/storyreel/worker/internal/services"
)

// Candidate names may change; keep this list small and editable.
var modelCandidates = []string{
	"publishers/google/models/veo-2",
	"publishers/google/models/veo-3",
	"publishers/google/models/veo-3-fast",
	"publishers/google/models/veo",
}

type snapshot struct {
	Timestamp    string                     `json:"ts"`
	Project      string                     `json:"project"`
	Region       string                     `json:"region"`
	Prices       []services.SkuPrice        `json:"prices"`
	VertexModels []services.VertexModelInfo `json:"vertexModels"`
	VeoModels    []services.VertexModelInfo `json:"veoModels"`
}

func newSyncCommand() *cobra.Command {
	var (
		project string
		region  string
		family  string
		outJSON string
		dbURL   string
	)

	cmd := &cobra.Command{
		Use:          "dailysync",
		Short:        "Sync GCP billing SKU prices and Vertex Model Garden availability",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), project, region, family, outJSON, dbURL)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "GCP project id")
	cmd.Flags().StringVar(&region, "region", "us-central1", "Vertex region and SKU region filter")
	cmd.Flags().StringVar(&family, "family", `\bE2\b|\bN1\b`, "Regex to filter Compute SKUs by machine family")
	cmd.Flags().StringVar(&outJSON, "out-json", "", "Write the collected snapshot to a JSON file")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Optional Postgres URL for upserting the snapshot")
	cmd.MarkFlagRequired("project")

	return cmd
}

func runSync(ctx context.Context, project, region, family, outJSON, dbURL string) error {
	var (
		prices []services.SkuPrice
		models []services.VertexModelInfo
	)

	// Billing catalog and Model Garden are independent reads.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("[Sync] fetching Compute Engine SKU prices (region=%s, family=%s)", region, family)
		catalog, err := services.NewCatalogClient(gctx)
		if err != nil {
			return err
		}
		prices, err = catalog.ComputeSkuPrices(gctx, region, family)
		if err != nil {
			return err
		}
		log.Printf("[Sync] found %d SKUs (filtered)", len(prices))
		return nil
	})

	g.Go(func() error {
		log.Printf("[Sync] probing Model Garden candidates (project=%s, region=%s)", project, region)
		garden, err := services.NewModelGardenClient(gctx, project, region)
		if err != nil {
			return err
		}
		models = garden.CheckCandidates(gctx, modelCandidates)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	var veo []services.VertexModelInfo
	for _, m := range models {
		if m.IsVideoRelated {
			veo = append(veo, m)
		}
	}
	log.Printf("[Sync] %d candidate models probed; %d flagged video-related", len(models), len(veo))

	snap := snapshot{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Project:      project,
		Region:       region,
		Prices:       prices,
		VertexModels: models,
		VeoModels:    veo,
	}

	if outJSON != "" {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		if err := os.WriteFile(outJSON, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outJSON, err)
		}
		log.Printf("[Sync] wrote %s", outJSON)
	}

	if dbURL != "" {
		log.Println("[Sync] upserting into database")
		database, err := db.New(dbURL)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.EnsureCatalogSchema(ctx); err != nil {
			return err
		}
		if err := database.UpsertSkuPrices(ctx, prices); err != nil {
			return err
		}
		if err := database.UpsertPublisherModels(ctx, models); err != nil {
			return err
		}
		log.Println("[Sync] database upsert complete")
	}

	return nil
}

func main() {
	if err := newSyncCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
