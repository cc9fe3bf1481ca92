package establishment

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/meghashyamc/placefinder/dataset"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/metrics"
	"github.com/meghashyamc/placefinder/provider"
)

const DefaultThreshold = 3

var DefaultDomainKeywords = []string{"clinic", "hospital", "medical", "health", "care"}

// Predictor is the cached provider path, normally *search.Coordinator.
type Predictor interface {
	Predict(ctx context.Context, text string, opts provider.PredictOptions) ([]provider.Candidate, error)
}

type Options struct {
	// Region limits results to descriptions that mention it, e.g. "British Columbia" or "BC".
	Region string
	// Threshold is the number of establishments that makes the address phase unnecessary.
	Threshold          int
	DomainKeywords     []string
	CountryRestriction string
	Metrics            *metrics.Metrics
}

type Result struct {
	Establishments []provider.Candidate `json:"establishments"`
	Addresses      []provider.Candidate `json:"addresses"`
	Merged         []provider.Candidate `json:"merged"`
	AddressPhase   bool                 `json:"address_phase"`
}

// Service searches for a clinic by name first and only falls back to plain
// addresses when too few named places match.
type Service struct {
	logger      logger.Logger
	predictor   Predictor
	regionTerms []string
	opts        Options
}

func New(logger logger.Logger, predictor Predictor, localities *dataset.Dataset, opts Options) *Service {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if len(opts.DomainKeywords) == 0 {
		opts.DomainKeywords = DefaultDomainKeywords
	}

	var regionTerms []string
	if localities != nil {
		regionTerms = localities.RegionTerms(opts.Region)
	} else if strings.TrimSpace(opts.Region) != "" {
		regionTerms = []string{strings.TrimSpace(opts.Region)}
	}

	return &Service{
		logger:      logger,
		predictor:   predictor,
		regionTerms: regionTerms,
		opts:        opts,
	}
}

// Search never fails: a phase whose provider call fails counts as empty.
func (s *Service) Search(ctx context.Context, text string) Result {
	result := Result{
		Establishments: []provider.Candidate{},
		Addresses:      []provider.Candidate{},
		Merged:         []provider.Candidate{},
	}
	query := strings.TrimSpace(text)
	if query == "" {
		return result
	}

	result.Establishments = s.phase(ctx, query, provider.TypeEstablishment)
	if len(result.Establishments) >= s.opts.Threshold {
		result.Merged = Rank(dedupe(result.Establishments), query, s.opts.DomainKeywords)
		s.opts.Metrics.ObserveEstablishmentSearch("establishment")
		return result
	}

	result.AddressPhase = true
	result.Addresses = s.phase(ctx, query, provider.TypeAddress)

	merged := make([]provider.Candidate, 0, len(result.Establishments)+len(result.Addresses))
	merged = append(merged, result.Establishments...)
	merged = append(merged, result.Addresses...)
	result.Merged = Rank(dedupe(merged), query, s.opts.DomainKeywords)
	s.opts.Metrics.ObserveEstablishmentSearch("establishment_address")
	return result
}

func (s *Service) phase(ctx context.Context, query string, typeFilter string) []provider.Candidate {
	candidates, err := s.predictor.Predict(ctx, query, provider.PredictOptions{
		CountryRestriction: s.opts.CountryRestriction,
		TypeFilter:         typeFilter,
	})
	if err != nil {
		s.logger.Warn("search phase failed, continuing without it", "type", typeFilter, "err", err.Error())
		return []provider.Candidate{}
	}
	return s.inRegion(candidates)
}

func (s *Service) inRegion(candidates []provider.Candidate) []provider.Candidate {
	filtered := make([]provider.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if len(s.regionTerms) == 0 || mentionsAny(candidate.Description, s.regionTerms) {
			filtered = append(filtered, candidate)
		}
	}
	return filtered
}

// mentionsAny reports whether description contains one of terms as a whole word,
// ignoring case, so "BC" matches "Vancouver, bc" but not "ABC Dental" or "BCé".
func mentionsAny(description string, terms []string) bool {
	description = strings.ToLower(description)
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		for offset := 0; offset < len(description); {
			index := strings.Index(description[offset:], term)
			if index < 0 {
				break
			}
			start := offset + index
			end := start + len(term)
			before, _ := utf8.DecodeLastRuneInString(description[:start])
			after, _ := utf8.DecodeRuneInString(description[end:])
			if !wordRune(before) && !wordRune(after) {
				return true
			}
			_, size := utf8.DecodeRuneInString(description[start:])
			offset = start + size
		}
	}
	return false
}

// wordRune is false for utf8.RuneError, which the decoders return at either end
// of the string.
func wordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// dedupe keeps the first candidate for every provider ID.
func dedupe(candidates []provider.Candidate) []provider.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	unique := make([]provider.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		key := candidate.ID
		if key == "" {
			key = "description:" + candidate.Description
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, candidate)
	}
	return unique
}
