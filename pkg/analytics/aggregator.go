package analytics

import (
	"context"
	"sort"
	"time"

	"qrlink/pkg/storage"

	"github.com/google/uuid"
)

// recentLimit caps the recent-scans list in a summary.
const recentLimit = 20

// unknownValue stands in for NULL enrichment fields in breakdowns and filter
// options. Filtering on it matches the NULL rows.
const unknownValue = "Unknown"

// Filters is a conjunctive exact-match predicate over scan facets. Empty
// fields impose no constraint.
type Filters struct {
	Country    string
	City       string
	DeviceType string
	Browser    string
}

func (f Filters) isZero() bool {
	return f == Filters{}
}

type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// HourCount is one bucket of the hour-of-day distribution. Hours with no
// scans are omitted.
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type RecentScan struct {
	ScannedAt  time.Time `json:"scanned_at"`
	Country    string    `json:"country"`
	City       string    `json:"city"`
	DeviceType string    `json:"device_type"`
	Browser    string    `json:"browser"`
	OS         string    `json:"os"`
	Referrer   string    `json:"referrer"`
}

// FilterOptions lists the distinct values observed per facet across ALL
// events for a code, independent of any applied filter, so drill-down choices
// never shrink.
type FilterOptions struct {
	Countries   []string `json:"countries"`
	Cities      []string `json:"cities"`
	DeviceTypes []string `json:"device_types"`
	Browsers    []string `json:"browsers"`
}

type Stats struct {
	TotalScans         int           `json:"total_scans"`
	UniqueUsers        int           `json:"unique_users"`
	Countries          []FacetCount  `json:"countries"`
	Cities             []FacetCount  `json:"cities"`
	DeviceTypes        []FacetCount  `json:"device_types"`
	Browsers           []FacetCount  `json:"browsers"`
	Referrers          []FacetCount  `json:"referrers"`
	HourlyDistribution []HourCount   `json:"hourly_distribution"`
	RecentScans        []RecentScan  `json:"recent_scans"`
	FilterOptions      FilterOptions `json:"filter_options"`
}

type Aggregator struct {
	scans storage.ScanStorage
}

func NewAggregator(scans storage.ScanStorage) *Aggregator {
	return &Aggregator{scans: scans}
}

// Summarize computes filtered counts, facet breakdowns, and recent scans for
// one code. Events come back from storage through a single filtered list
// query; everything else is derived here, which keeps the storage layer free
// of any query planning.
func (a *Aggregator) Summarize(ctx context.Context, codeID uuid.UUID, filters Filters) (*Stats, error) {
	filtered, err := a.scans.ListByCode(ctx, codeID, toScanFilter(filters))
	if err != nil {
		return nil, err
	}

	all := filtered
	if !filters.isZero() {
		all, err = a.scans.ListByCode(ctx, codeID, storage.ScanFilter{})
		if err != nil {
			return nil, err
		}
	}

	stats := &Stats{
		TotalScans:         len(filtered),
		UniqueUsers:        countUnique(filtered),
		Countries:          facetCounts(filtered, func(e *storage.ScanEvent) string { return orUnknown(e.Country) }),
		Cities:             facetCounts(filtered, func(e *storage.ScanEvent) string { return orUnknown(e.City) }),
		DeviceTypes:        facetCounts(filtered, func(e *storage.ScanEvent) string { return e.DeviceType }),
		Browsers:           facetCounts(filtered, func(e *storage.ScanEvent) string { return orUnknown(e.Browser) }),
		Referrers:          facetCounts(filtered, func(e *storage.ScanEvent) string { return orDirect(e.Referrer) }),
		HourlyDistribution: hourlyDistribution(filtered),
		RecentScans:        recentScans(filtered),
		FilterOptions:      filterOptions(all),
	}
	return stats, nil
}

func toScanFilter(f Filters) storage.ScanFilter {
	var sf storage.ScanFilter
	if f.Country != "" {
		sf.Country = &f.Country
	}
	if f.City != "" {
		sf.City = &f.City
	}
	if f.DeviceType != "" {
		sf.DeviceType = &f.DeviceType
	}
	if f.Browser != "" {
		sf.Browser = &f.Browser
	}
	return sf
}

func countUnique(events []*storage.ScanEvent) int {
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		seen[e.ClientFingerprint] = struct{}{}
	}
	return len(seen)
}

// facetCounts orders by count descending; ties break by ascending value so
// output is deterministic.
func facetCounts(events []*storage.ScanEvent, value func(*storage.ScanEvent) string) []FacetCount {
	counts := make(map[string]int)
	for _, e := range events {
		counts[value(e)]++
	}

	result := make([]FacetCount, 0, len(counts))
	for v, c := range counts {
		result = append(result, FacetCount{Value: v, Count: c})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Value < result[j].Value
	})
	return result
}

// hourlyDistribution buckets scans by UTC hour of day, ascending. Buckets
// with no scans are omitted rather than zero-filled.
func hourlyDistribution(events []*storage.ScanEvent) []HourCount {
	counts := make(map[int]int)
	for _, e := range events {
		counts[e.ScannedAt.UTC().Hour()]++
	}

	result := make([]HourCount, 0, len(counts))
	for hour, c := range counts {
		result = append(result, HourCount{Hour: hour, Count: c})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Hour < result[j].Hour
	})
	return result
}

func recentScans(events []*storage.ScanEvent) []RecentScan {
	n := len(events)
	if n > recentLimit {
		n = recentLimit
	}
	recent := make([]RecentScan, 0, n)
	for _, e := range events[:n] {
		recent = append(recent, RecentScan{
			ScannedAt:  e.ScannedAt,
			Country:    orUnknown(e.Country),
			City:       orUnknown(e.City),
			DeviceType: e.DeviceType,
			Browser:    orUnknown(e.Browser),
			OS:         orUnknown(e.OS),
			Referrer:   orDirect(e.Referrer),
		})
	}
	return recent
}

func filterOptions(events []*storage.ScanEvent) FilterOptions {
	return FilterOptions{
		Countries:   distinctValues(events, func(e *storage.ScanEvent) string { return orUnknown(e.Country) }),
		Cities:      distinctValues(events, func(e *storage.ScanEvent) string { return orUnknown(e.City) }),
		DeviceTypes: distinctValues(events, func(e *storage.ScanEvent) string { return e.DeviceType }),
		Browsers:    distinctValues(events, func(e *storage.ScanEvent) string { return orUnknown(e.Browser) }),
	}
}

func distinctValues(events []*storage.ScanEvent, value func(*storage.ScanEvent) string) []string {
	seen := make(map[string]struct{})
	var values []string
	for _, e := range events {
		v := value(e)
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values
}

func orUnknown(s *string) string {
	if s == nil || *s == "" {
		return unknownValue
	}
	return *s
}

func orDirect(s *string) string {
	if s == nil || *s == "" {
		return "Direct"
	}
	return *s
}
