package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/meghashyamc/placefinder/cache"
	"github.com/meghashyamc/placefinder/clock"
	"github.com/meghashyamc/placefinder/dataset"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/metrics"
	"github.com/meghashyamc/placefinder/provider"
)

const (
	DefaultDebounce       = 300 * time.Millisecond
	DefaultMinQueryLength = 3

	// TypeLocality marks candidates that came from the bundled dataset.
	TypeLocality = "locality"
)

var ErrNoResults = errors.New("no search results available")

// Fallback searches the bundled locality dataset.
type Fallback interface {
	Filter(ctx context.Context, query string) ([]dataset.LocalityRecord, error)
}

type Options struct {
	Debounce time.Duration
	// An empty provider answer only falls back to the dataset for queries shorter than this.
	MinQueryLength     int
	CountryRestriction string
	TypeFilter         string
	Clock              clock.Clock
	Metrics            *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.MinQueryLength <= 0 {
		o.MinQueryLength = DefaultMinQueryLength
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

type ResultSet struct {
	Items       []provider.Candidate `json:"items"`
	SourceQuery string               `json:"source_query"`
	Generation  uint64               `json:"generation"`
	Fallback    bool                 `json:"fallback"`
	Cached      bool                 `json:"cached"`
}

// Coordinator answers search queries from the short-TTL cache, the remote provider
// and, when the provider can't help, the locality dataset. It is shared by every
// Field of the service.
type Coordinator struct {
	logger    logger.Logger
	predictor provider.Predictor
	fallback  Fallback
	results   cache.Cache[[]provider.Candidate]
	opts      Options
}

func New(logger logger.Logger, predictor provider.Predictor, fallback Fallback, results cache.Cache[[]provider.Candidate], opts Options) *Coordinator {
	return &Coordinator{
		logger:    logger,
		predictor: predictor,
		fallback:  fallback,
		results:   results,
		opts:      opts.withDefaults(),
	}
}

func (c *Coordinator) Options() Options {
	return c.opts
}

// Lookup runs a single query without debouncing.
func (c *Coordinator) Lookup(ctx context.Context, text string, opts provider.PredictOptions) (ResultSet, error) {
	opts = c.predictOptions(opts)
	resultSet, store, err := c.resolve(ctx, text, opts)
	if err != nil {
		return resultSet, err
	}
	if store {
		c.results.Set(ctx, cacheKey(normalize(text), opts), resultSet.Items)
	}
	return resultSet, nil
}

// Predict goes through the cache and the provider only. Provider failures are
// returned to the caller instead of falling back to the dataset.
func (c *Coordinator) Predict(ctx context.Context, text string, opts provider.PredictOptions) ([]provider.Candidate, error) {
	opts = c.predictOptions(opts)
	query := normalize(text)
	if query == "" {
		return []provider.Candidate{}, nil
	}

	key := cacheKey(query, opts)
	if items, ok := c.results.Get(ctx, key); ok {
		return items, nil
	}

	items, err := c.predictor.Predict(ctx, strings.TrimSpace(text), opts)
	if err != nil {
		return nil, err
	}
	c.results.Set(ctx, key, items)
	return items, nil
}

// resolve produces the answer for text and reports whether it should be cached.
// Nothing is written here so that a Field can skip the write for stale answers.
func (c *Coordinator) resolve(ctx context.Context, text string, opts provider.PredictOptions) (ResultSet, bool, error) {
	query := normalize(text)
	resultSet := ResultSet{SourceQuery: strings.TrimSpace(text), Items: []provider.Candidate{}}
	if query == "" {
		return resultSet, false, nil
	}

	if items, ok := c.results.Get(ctx, cacheKey(query, opts)); ok {
		resultSet.Items = items
		resultSet.Cached = true
		return resultSet, false, nil
	}

	items, err := c.predictor.Predict(ctx, strings.TrimSpace(text), opts)
	switch {
	case err == nil && (len(items) > 0 || utf8.RuneCountInString(query) >= c.opts.MinQueryLength):
		resultSet.Items = items
		return resultSet, true, nil
	case err == nil:
		c.opts.Metrics.ObserveFallback("short_query")
	case ctx.Err() != nil:
		return resultSet, false, ctx.Err()
	default:
		c.logger.Warn("search provider failed, falling back to locality dataset", "query", query, "err", err.Error())
		c.opts.Metrics.ObserveFallback("provider_error")
	}

	records, err := c.fallback.Filter(ctx, query)
	if err != nil {
		c.logger.Error("locality fallback failed", "query", query, "err", err.Error())
		return resultSet, false, fmt.Errorf("%w: %v", ErrNoResults, err)
	}
	resultSet.Items = fromLocalities(records)
	resultSet.Fallback = true
	return resultSet, false, nil
}

func (c *Coordinator) predictOptions(opts provider.PredictOptions) provider.PredictOptions {
	if opts.CountryRestriction == "" {
		opts.CountryRestriction = c.opts.CountryRestriction
	}
	if opts.TypeFilter == "" {
		opts.TypeFilter = c.opts.TypeFilter
	}
	return opts
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Answers differ per type filter and country, so both are part of the key.
func cacheKey(query string, opts provider.PredictOptions) string {
	return strings.ToLower(opts.CountryRestriction) + "|" + opts.TypeFilter + "|" + query
}

func fromLocalities(records []dataset.LocalityRecord) []provider.Candidate {
	candidates := make([]provider.Candidate, 0, len(records))
	for _, record := range records {
		candidates = append(candidates, provider.Candidate{
			ID:            record.ID,
			Description:   record.DisplayLabel + ", " + record.Region,
			MainText:      record.DisplayLabel,
			SecondaryText: record.Region,
			Types:         []string{TypeLocality},
		})
	}
	return candidates
}
