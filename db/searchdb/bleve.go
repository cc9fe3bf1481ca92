package searchdb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/meghashyamc/placefinder/dataset"
	"github.com/meghashyamc/placefinder/logger"
)

const indexingBatchSize = 100

const (
	indexFieldLabel  = "label"
	indexFieldRegion = "region"

	analyzerLowercaseKeyword = "lowercase_keyword"
)

// BleveDB is an in-memory index over the locality dataset. Labels and regions are
// indexed as single lower-cased terms so a wildcard query gives substring matching.
type BleveDB struct {
	logger  logger.Logger
	index   bleve.Index
	records map[string]dataset.LocalityRecord
	order   map[string]int
	scan    func(query string) []dataset.LocalityRecord
}

func New(logger logger.Logger, localities *dataset.Dataset) (*BleveDB, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		logger.Error("could not create index mapping", "err", err.Error())
		return nil, err
	}

	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		logger.Error("could not create locality index", "err", err.Error())
		return nil, fmt.Errorf("could not create locality index: %w", err)
	}

	records := localities.Records()
	b := &BleveDB{
		logger:  logger,
		index:   index,
		records: make(map[string]dataset.LocalityRecord, len(records)),
		order:   make(map[string]int, len(records)),
		scan:    localities.Filter,
	}
	if err := b.buildIndex(records); err != nil {
		index.Close()
		return nil, err
	}
	return b, nil
}

func createIndexMapping() (mapping.IndexMapping, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(analyzerLowercaseKeyword, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("could not register analyzer: %w", err)
	}

	docMapping := bleve.NewDocumentMapping()

	labelFieldMapping := bleve.NewTextFieldMapping()
	labelFieldMapping.Analyzer = analyzerLowercaseKeyword
	docMapping.AddFieldMappingsAt(indexFieldLabel, labelFieldMapping)

	regionFieldMapping := bleve.NewTextFieldMapping()
	regionFieldMapping.Analyzer = analyzerLowercaseKeyword
	docMapping.AddFieldMappingsAt(indexFieldRegion, regionFieldMapping)

	indexMapping.DefaultMapping = docMapping

	return indexMapping, nil
}

func (b *BleveDB) buildIndex(records []dataset.LocalityRecord) error {
	batch := b.index.NewBatch()

	for i, record := range records {
		b.records[record.ID] = record
		b.order[record.ID] = i

		doc := map[string]interface{}{
			indexFieldLabel:  record.DisplayLabel,
			indexFieldRegion: record.Region,
		}
		if err := batch.Index(record.ID, doc); err != nil {
			b.logger.Error("could not index locality", "id", record.ID, "err", err.Error())
			return err
		}

		// Execute batch when it reaches the batch size
		if (i+1)%indexingBatchSize == 0 {
			if err := b.index.Batch(batch); err != nil {
				return err
			}
			batch = b.index.NewBatch()
		}
	}

	if batch.Size() > 0 {
		if err := b.index.Batch(batch); err != nil {
			b.logger.Error("could not index localities", "err", err.Error())
			return err
		}
	}

	return nil
}

// Filter returns the localities whose label or region contains query, ignoring case,
// in dataset order.
func (b *BleveDB) Filter(ctx context.Context, query string) ([]dataset.LocalityRecord, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}

	// Wildcard metacharacters can't be escaped in a bleve wildcard query.
	if strings.ContainsAny(query, "*?") {
		return b.scan(query), nil
	}

	pattern := "*" + query + "*"
	labelQuery := bleve.NewWildcardQuery(pattern)
	labelQuery.SetField(indexFieldLabel)
	regionQuery := bleve.NewWildcardQuery(pattern)
	regionQuery.SetField(indexFieldRegion)

	searchRequest := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(labelQuery, regionQuery), len(b.records), 0, false)

	searchResult, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		b.logger.Error("locality search failed", "query", query, "err", err.Error())
		return nil, fmt.Errorf("locality search failed: %w", err)
	}

	matches := make([]dataset.LocalityRecord, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		if record, ok := b.records[hit.ID]; ok {
			matches = append(matches, record)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return b.order[matches[i].ID] < b.order[matches[j].ID]
	})
	if len(matches) == 0 {
		return nil, nil
	}
	return matches, nil
}

func (b *BleveDB) GetDocCount() (uint64, error) {
	return b.index.DocCount()
}

func (b *BleveDB) Close() error {
	if b.index != nil {
		if err := b.index.Close(); err != nil {
			b.logger.Error("could not close locality index", "err", err.Error())
			return err
		}
	}
	return nil
}
