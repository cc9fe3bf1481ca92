package kvdb

import (
	"encoding/json"
	"fmt"
	"time"

	geohash "github.com/TomiHiltunen/geohash-golang"
	"github.com/meghashyamc/placefinder/logger"
)

// Precision 5 is a cell of roughly 5km x 5km; the exact device position is never stored.
const geohashPrecision = 5

type LocationRecord struct {
	City       string    `json:"city"`
	Geohash    string    `json:"geohash,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// LocationMemory remembers the last detected city for a portal session so that it can
// be pre-filled after page navigations.
type LocationMemory struct {
	db     DB
	logger logger.Logger
}

func NewLocationMemory(db DB, logger logger.Logger) *LocationMemory {
	return &LocationMemory{db: db, logger: logger}
}

func (m *LocationMemory) Remember(session string, city string, lat, lon float64, resolvedAt time.Time) error {
	record := LocationRecord{
		City:       city,
		Geohash:    geohash.EncodeWithPrecision(lat, lon, geohashPrecision),
		ResolvedAt: resolvedAt.UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		m.logger.Error("failed to marshal location record", "session", session, "err", err.Error())
		return fmt.Errorf("failed to marshal location record: %w", err)
	}

	return m.db.Put(LocationsBucket, session, data)
}

func (m *LocationMemory) Recall(session string) (*LocationRecord, error) {
	value, err := m.db.Get(LocationsBucket, session)
	if err != nil {
		return nil, err
	}

	var record LocationRecord
	if err := json.Unmarshal(value, &record); err != nil {
		m.logger.Error("failed to unmarshal location record", "session", session, "err", err.Error())
		return nil, fmt.Errorf("failed to unmarshal location record for %s: %w", session, err)
	}
	return &record, nil
}

func (m *LocationMemory) Forget(session string) error {
	return m.db.Delete(LocationsBucket, session)
}

// Prune forgets every session whose location was resolved before cutoff, along with
// records that no longer decode. It returns how many sessions were removed.
func (m *LocationMemory) Prune(cutoff time.Time) (int, error) {
	var expired []string
	err := m.db.Scan(LocationsBucket, func(session string, value []byte) error {
		var record LocationRecord
		if err := json.Unmarshal(value, &record); err != nil || record.ResolvedAt.Before(cutoff) {
			expired = append(expired, session)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan remembered locations: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := m.db.Delete(LocationsBucket, expired...); err != nil {
		return 0, err
	}
	m.logger.Info("pruned remembered locations", "count", len(expired), "cutoff", cutoff)
	return len(expired), nil
}
