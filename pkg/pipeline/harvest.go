package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trendharvest/pkg/metrics"
	"trendharvest/pkg/models"
	"trendharvest/pkg/resilience"
)

const (
	DefaultPrompt = "What are the top 20 trending DIY projects?"
	DefaultTable  = "diy_trending_projects"
)

// Fetcher asks an upstream AI-query API and returns citation URLs.
type Fetcher interface {
	Citations(ctx context.Context, prompt string, maxTokens int) ([]string, error)
}

// Storer inserts rows into the hosted database.
type Storer interface {
	Insert(ctx context.Context, table string, row interface{}) error
}

// ProjectRow is one stored trending project.
type ProjectRow struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

// Harvester runs the built-in fetch-and-store pipeline: query the
// upstream API, extract citation URLs, insert one row per URL.
type Harvester struct {
	fetcher Fetcher
	storer  Storer

	fetchBreaker *resilience.CircuitBreaker
	storeBreaker *resilience.CircuitBreaker

	log *zap.Logger
}

func NewHarvester(fetcher Fetcher, storer Storer, log *zap.Logger) *Harvester {
	return &Harvester{
		fetcher:      fetcher,
		storer:       storer,
		fetchBreaker: resilience.NewCircuitBreaker("perplexity", resilience.DefaultCircuitBreakerConfig()),
		storeBreaker: resilience.NewCircuitBreaker("supabase", resilience.DefaultCircuitBreakerConfig()),
		log:          log,
	}
}

// Run executes one harvest cycle and returns the number of rows
// stored. A per-row insert failure is logged and skipped; the run
// only fails when the fetch fails or every insert failed.
func (h *Harvester) Run(ctx context.Context, spec models.HarvestSpec) (int, error) {
	prompt := spec.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	table := spec.Table
	if table == "" {
		table = DefaultTable
	}

	var urls []string
	err := h.fetchBreaker.Execute(ctx, func() error {
		var fetchErr error
		urls, fetchErr = h.fetcher.Citations(ctx, prompt, spec.MaxTokens)
		return fetchErr
	})
	if err != nil {
		metrics.HarvestFetchFailures.Inc()
		return 0, fmt.Errorf("fetch failed: %w", err)
	}

	if len(urls) == 0 {
		h.log.Warn("harvest returned no citations", zap.String("table", table))
		return 0, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	stored := 0
	for _, url := range urls {
		row := ProjectRow{
			Title:     "Trending DIY Project",
			URL:       url,
			CreatedAt: now,
		}

		insertErr := h.storeBreaker.Execute(ctx, func() error {
			return h.storer.Insert(ctx, table, row)
		})
		if insertErr != nil {
			metrics.HarvestStoreFailures.Inc()
			h.log.Warn("failed to store citation",
				zap.String("url", url), zap.Error(insertErr))
			continue
		}
		stored++
	}

	metrics.HarvestURLsStored.Add(float64(stored))
	h.log.Info("harvest cycle complete",
		zap.String("table", table),
		zap.Int("fetched", len(urls)),
		zap.Int("stored", stored))

	if stored == 0 {
		return 0, fmt.Errorf("all %d inserts failed", len(urls))
	}
	return stored, nil
}
