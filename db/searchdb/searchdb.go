package searchdb

import (
	"context"

	"github.com/meghashyamc/placefinder/dataset"
)

type DB interface {
	Filter(ctx context.Context, query string) ([]dataset.LocalityRecord, error)
	GetDocCount() (uint64, error)
	Close() error
}
