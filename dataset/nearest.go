package dataset

import (
	"math"
	"slices"
	"sort"

	"github.com/golang/geo/s2"
)

const (
	// Level 6 cells are roughly 100-150km across, which keeps a sparse list of
	// localities within the 3x3 neighbourhood of any query cell.
	s2CellLevel = 6

	earthRadiusKm        = 6371.0
	maxNearestDistanceKm = 50.0
)

type nearestCandidate struct {
	index int
	dist  float64
}

func (d *Dataset) buildCellIndex() {
	d.cellIndex = make(map[s2.CellID][]int)
	for i, record := range d.records {
		ll := s2.LatLngFromDegrees(record.Latitude, record.Longitude)
		cell := s2.CellIDFromLatLng(ll).Parent(s2CellLevel)
		d.cellIndex[cell] = append(d.cellIndex[cell], i)
	}
}

// neighborhood is the cell plus every cell touching it at the same level. Near a
// cube vertex AllNeighbors can repeat a cell, hence the dedupe.
func neighborhood(cell s2.CellID) []s2.CellID {
	cells := []s2.CellID{cell}
	for _, neighbor := range cell.AllNeighbors(cell.Level()) {
		if !slices.Contains(cells, neighbor) {
			cells = append(cells, neighbor)
		}
	}
	return cells
}

// Nearest returns the closest known locality within 50km of the coordinate.
func (d *Dataset) Nearest(lat, lon float64) (LocalityRecord, bool) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return LocalityRecord{}, false
	}

	queryLL := s2.LatLngFromDegrees(lat, lon)
	queryCell := s2.CellIDFromLatLng(queryLL).Parent(s2CellLevel)

	var candidates []nearestCandidate
	for _, cell := range neighborhood(queryCell) {
		for _, idx := range d.cellIndex[cell] {
			record := d.records[idx]
			recordLL := s2.LatLngFromDegrees(record.Latitude, record.Longitude)
			distKm := queryLL.Distance(recordLL).Radians() * earthRadiusKm
			candidates = append(candidates, nearestCandidate{index: idx, dist: distKm})
		}
	}
	if len(candidates) == 0 {
		return LocalityRecord{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].index < candidates[j].index
	})

	best := candidates[0]
	if best.dist > maxNearestDistanceKm {
		return LocalityRecord{}, false
	}
	return d.records[best.index], true
}
