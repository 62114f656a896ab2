package report

import (
	"fmt"
	"sort"

	"github.com/talmage/graceworks/internal/results"
)

// SessionSummary aggregates the scores of one conference session.
type SessionSummary struct {
	SessionID string
	Talks     int
	Average   float64
	Min       int
	Max       int
}

// Report is the full aggregation of a results file.
type Report struct {
	Sessions []SessionSummary // ascending by session ID
	Talks    int
	Average  float64
}

// Build aggregates records into per-session averages plus an overall
// average. An empty record set yields an empty report, not an error.
func Build(records []results.Record) Report {
	bySession := make(map[string][]int)
	total := 0
	for _, r := range records {
		bySession[r.SessionID] = append(bySession[r.SessionID], r.Score)
		total += r.Score
	}

	sessions := make([]SessionSummary, 0, len(bySession))
	for id, scores := range bySession {
		sum, min, max := 0, scores[0], scores[0]
		for _, s := range scores {
			sum += s
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
		}
		sessions = append(sessions, SessionSummary{
			SessionID: id,
			Talks:     len(scores),
			Average:   float64(sum) / float64(len(scores)),
			Min:       min,
			Max:       max,
		})
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionID < sessions[j].SessionID
	})

	report := Report{Sessions: sessions, Talks: len(records)}
	if len(records) > 0 {
		report.Average = float64(total) / float64(len(records))
	}
	return report
}

// Lean describes which side of the scale an average falls on.
func Lean(avg float64) string {
	switch {
	case avg <= -0.5:
		return "grace"
	case avg >= 0.5:
		return "works"
	default:
		return "balanced"
	}
}

// FormatAverage renders an average with its sign, e.g. "+1.25" or "-0.60".
func FormatAverage(avg float64) string {
	return fmt.Sprintf("%+.2f", avg)
}
