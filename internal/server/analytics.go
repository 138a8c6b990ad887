package server

import (
	"fmt"
	"sort"
	"time"
)

// usageRecord is the read view the aggregations work on. Dates carry day
// granularity only (UTC midnight); mood fields are optional because planned
// and skipped records never have an after-mood.
type usageRecord struct {
	ID             string
	UserID         string
	Date           time.Time
	Status         string
	SelectedAromas []string
	UsedAromas     []string
	MoodBefore     *int
	MoodAfter      *int
	UsageMethod    string
	Notes          string
	CreatedAt      time.Time
}

const (
	recordStatusPlanned   = "planned"
	recordStatusCompleted = "completed"
	recordStatusSkipped   = "skipped"

	topAromaLimit = 5
)

var validRecordStatuses = map[string]struct{}{
	recordStatusPlanned:   {},
	recordStatusCompleted: {},
	recordStatusSkipped:   {},
}

// currentStreak counts consecutive logged days walking back from today.
// A day without a record for "today" yields 0 by definition.
func currentStreak(records []usageRecord, today time.Time) int {
	if len(records) == 0 {
		return 0
	}

	sorted := make([]usageRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})

	todayStart := startOfUTCDay(today)
	streak := 0
	for i, record := range sorted {
		expected := todayStart.AddDate(0, 0, -i)
		if startOfUTCDay(record.Date).Equal(expected) {
			streak++
		} else {
			break
		}
	}
	return streak
}

// longestStreak scans date-ascending adjacent pairs; any difference other
// than exactly one day (gaps and same-day duplicates alike) resets the run.
func longestStreak(records []usageRecord) int {
	if len(records) == 0 {
		return 0
	}

	sorted := make([]usageRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	longest := 1
	run := 1
	for i := 1; i < len(sorted); i++ {
		prev := startOfUTCDay(sorted[i-1].Date)
		curr := startOfUTCDay(sorted[i].Date)
		diffDays := int(curr.Sub(prev).Hours() / 24)
		if diffDays == 1 {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 1
		}
	}
	return longest
}

func monthlyRecordCount(records []usageRecord, year int, month time.Month) int {
	count := 0
	for _, record := range records {
		date := record.Date.UTC()
		if date.Year() == year && date.Month() == month {
			count++
		}
	}
	return count
}

type aromaUsage struct {
	AromaID string
	Count   int
}

// topAromaUsage flattens every record's selected aroma ids into a frequency
// histogram and returns the top N by descending count. Ties keep first-seen
// record order, which is implementation-defined but stable.
func topAromaUsage(records []usageRecord, limit int) []aromaUsage {
	if limit <= 0 {
		limit = topAromaLimit
	}

	counts := map[string]int{}
	order := make([]string, 0)
	for _, record := range records {
		for _, aromaID := range record.SelectedAromas {
			if aromaID == "" {
				continue
			}
			if _, seen := counts[aromaID]; !seen {
				order = append(order, aromaID)
			}
			counts[aromaID]++
		}
	}

	usages := make([]aromaUsage, 0, len(order))
	for _, aromaID := range order {
		usages = append(usages, aromaUsage{AromaID: aromaID, Count: counts[aromaID]})
	}
	sort.SliceStable(usages, func(i, j int) bool {
		return usages[i].Count > usages[j].Count
	})
	if len(usages) > limit {
		usages = usages[:limit]
	}
	return usages
}

// averageMoodImprovement reports the mean of (after - before) over records
// carrying both moods, rounded to one decimal with an explicit sign for
// non-negative values. The second return is false when no record qualifies.
func averageMoodImprovement(records []usageRecord) (string, bool) {
	total := 0
	qualifying := 0
	for _, record := range records {
		if record.MoodBefore == nil || record.MoodAfter == nil {
			continue
		}
		total += *record.MoodAfter - *record.MoodBefore
		qualifying++
	}
	if qualifying == 0 {
		return "", false
	}

	average := float64(total) / float64(qualifying)
	formatted := fmt.Sprintf("%.1f", average)
	// A small negative average rounds to zero; keep the "+" convention there.
	if formatted == "-0.0" {
		formatted = "0.0"
	}
	if formatted[0] != '-' {
		formatted = "+" + formatted
	}
	return formatted, true
}
