package dataset

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang/geo/s2"
)

//go:embed localities.json
var defaultData []byte

type LocalityRecord struct {
	ID           string  `json:"id"`
	DisplayLabel string  `json:"display_label"`
	Region       string  `json:"region"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
}

type Region struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Dataset is the static list of known localities. It is read-only after construction
// and safe for concurrent use.
type Dataset struct {
	records   []LocalityRecord
	regions   []Region
	cellIndex map[s2.CellID][]int
}

type file struct {
	Regions    []Region         `json:"regions"`
	Localities []LocalityRecord `json:"localities"`
}

// Default loads the bundled locality list.
func Default() (*Dataset, error) {
	return Parse(defaultData)
}

func Parse(data []byte) (*Dataset, error) {
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode locality dataset: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Localities))
	for _, record := range f.Localities {
		if record.ID == "" || record.DisplayLabel == "" {
			return nil, fmt.Errorf("locality %q is missing an id or label", record.ID)
		}
		if _, ok := seen[record.ID]; ok {
			return nil, fmt.Errorf("duplicate locality id %q", record.ID)
		}
		seen[record.ID] = struct{}{}
	}

	return New(f.Localities, f.Regions), nil
}

func New(records []LocalityRecord, regions []Region) *Dataset {
	d := &Dataset{
		records: append([]LocalityRecord(nil), records...),
		regions: append([]Region(nil), regions...),
	}
	d.buildCellIndex()
	return d
}

// Records returns the localities in dataset order.
func (d *Dataset) Records() []LocalityRecord {
	return append([]LocalityRecord(nil), d.records...)
}

func (d *Dataset) Regions() []Region {
	return append([]Region(nil), d.regions...)
}

// Filter returns every locality whose label or region contains query, ignoring case,
// in dataset order. A blank query matches nothing.
func (d *Dataset) Filter(query string) []LocalityRecord {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var matches []LocalityRecord
	for _, record := range d.records {
		if strings.Contains(strings.ToLower(record.DisplayLabel), query) ||
			strings.Contains(strings.ToLower(record.Region), query) {
			matches = append(matches, record)
		}
	}
	return matches
}

// RegionTerms classifies a configured region string against the known regions and
// returns every alias that identifies it (full name and abbreviation). An unknown
// region is returned as its own only alias.
func (d *Dataset) RegionTerms(region string) []string {
	region = strings.TrimSpace(region)
	if region == "" {
		return nil
	}
	for _, r := range d.regions {
		if strings.EqualFold(r.Name, region) || strings.EqualFold(r.Code, region) {
			return []string{r.Name, r.Code}
		}
	}
	return []string{region}
}
