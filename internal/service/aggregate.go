package service

import (
	"math"
	"sort"
	"time"

	"github.com/noah-isme/readaloud-api/internal/models"
)

// Aggregates shared by the dashboard, reports and student analytics. Every
// rounded figure the API shows goes through Round1 exactly once.

const (
	trendDelta              = 0.5
	attentionCompletionRate = 70.0
	attentionFluency        = 2.0
	attentionMissedLimit    = 2
)

// Round1 rounds half away from zero to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// CompletionRate returns completed/issued as a rounded percentage. No issued work yields 0.
func CompletionRate(completed, issued int) float64 {
	if issued <= 0 {
		return 0
	}
	return Round1(float64(completed) * 100 / float64(issued))
}

// Average returns the rounded mean of values, or nil when there are none.
func Average(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	avg := Round1(mean(values))
	return &avg
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// reviewedSamples returns reviewed recordings carrying both scores, oldest review first.
func reviewedSamples(recordings []models.RecordingSample) []models.RecordingSample {
	out := make([]models.RecordingSample, 0, len(recordings))
	for _, r := range recordings {
		if r.Status == models.RecordingStatusReviewed && r.FluencyScore != nil && r.AccuracyScore != nil {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return reviewTime(out[i]).Before(reviewTime(out[j]))
	})
	return out
}

func reviewTime(r models.RecordingSample) time.Time {
	if r.ReviewedAt != nil {
		return *r.ReviewedAt
	}
	return r.CreatedAt
}

func combinedScore(r models.RecordingSample) float64 {
	return float64(*r.FluencyScore + *r.AccuracyScore)
}

// scoreWindows splits reviewed samples into the most recent k and the k before them.
func scoreWindows(reviewed []models.RecordingSample, k int) (recent, prior []models.RecordingSample) {
	if k <= 0 {
		return nil, nil
	}
	n := len(reviewed)
	start := n - k
	if start < 0 {
		start = 0
	}
	recent = reviewed[start:]
	priorStart := start - k
	if priorStart < 0 {
		priorStart = 0
	}
	prior = reviewed[priorStart:start]
	return recent, prior
}

func windowMeans(recent, prior []models.RecordingSample) (float64, float64, bool) {
	if len(recent) < 2 || len(prior) < 2 {
		return 0, 0, false
	}
	r := make([]float64, 0, len(recent))
	for _, s := range recent {
		r = append(r, combinedScore(s))
	}
	p := make([]float64, 0, len(prior))
	for _, s := range prior {
		p = append(p, combinedScore(s))
	}
	return mean(r), mean(p), true
}

// ClassifyTrend buckets the movement of combined scores across the two trailing windows.
func ClassifyTrend(recordings []models.RecordingSample, k int) models.Trend {
	recent, prior := scoreWindows(reviewedSamples(recordings), k)
	recentMean, priorMean, ok := windowMeans(recent, prior)
	if !ok {
		return models.TrendInsufficientData
	}
	delta := recentMean - priorMean
	switch {
	case delta >= trendDelta:
		return models.TrendImproving
	case delta <= -trendDelta:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

type studentTotals struct {
	issued    int
	completed int
	fluency   []float64
	accuracy  []float64
}

func totalsFor(h *models.StudentHistory) studentTotals {
	var t studentTotals
	t.issued = len(h.Assignments)
	for _, a := range h.Assignments {
		if a.CompletedAt != nil {
			t.completed++
		}
	}
	for _, r := range reviewedSamples(h.Recordings) {
		t.fluency = append(t.fluency, float64(*r.FluencyScore))
		t.accuracy = append(t.accuracy, float64(*r.AccuracyScore))
	}
	return t
}

// SummarizeStudent computes the metrics row for one student history.
func SummarizeStudent(h *models.StudentHistory, openFlags int, rules FlagRules, now time.Time) models.StudentMetrics {
	totals := totalsFor(h)
	metrics := models.StudentMetrics{
		StudentID:            h.StudentID,
		FullName:             h.FullName,
		TotalAssignments:     totals.issued,
		CompletedAssignments: totals.completed,
		CompletionRate:       CompletionRate(totals.completed, totals.issued),
		TotalRecordings:      len(h.Recordings),
		ReviewedRecordings:   len(totals.fluency),
		AverageFluency:       Average(totals.fluency),
		AverageAccuracy:      Average(totals.accuracy),
		Trend:                ClassifyTrend(h.Recordings, rules.TrendWindow),
		OpenFlags:            openFlags,
	}

	var durations []float64
	var last time.Time
	for _, r := range h.Recordings {
		durations = append(durations, r.DurationSeconds)
		if r.CreatedAt.After(last) {
			last = r.CreatedAt
		}
	}
	if len(durations) > 0 {
		metrics.AverageDurationSeconds = Round1(mean(durations))
		days := daysBetween(last, now)
		metrics.DaysSinceLastSubmission = &days
	}

	for _, a := range h.Assignments {
		if a.DueDate == nil || !a.DueDate.Before(now) {
			continue
		}
		if a.CompletedAt == nil || a.CompletedAt.After(*a.DueDate) {
			metrics.MissedDeadlines++
		}
	}

	metrics.NeedsAttention = needsAttention(metrics, rules)
	return metrics
}

func needsAttention(m models.StudentMetrics, rules FlagRules) bool {
	if m.TotalAssignments > 0 && m.CompletionRate < attentionCompletionRate {
		return true
	}
	if m.DaysSinceLastSubmission != nil && *m.DaysSinceLastSubmission > rules.GapDays {
		return true
	}
	if m.AverageFluency != nil && *m.AverageFluency < attentionFluency {
		return true
	}
	return m.MissedDeadlines > attentionMissedLimit
}

// SummarizeGroup aggregates histories into a group summary plus the per-student rows it was built from.
// Completion is Σcompleted / Σissued over every progress row, and score averages run over every reviewed recording.
func SummarizeGroup(histories []*models.StudentHistory, openFlags map[string]int, rules FlagRules, now time.Time) (models.GroupSummary, []models.StudentMetrics) {
	summary := models.GroupSummary{
		TotalStudents:  len(histories),
		TrendHistogram: make(map[models.Trend]int, len(models.Trends())),
	}
	for _, trend := range models.Trends() {
		summary.TrendHistogram[trend] = 0
	}

	var fluency, accuracy []float64
	rows := make([]models.StudentMetrics, 0, len(histories))
	for _, h := range histories {
		totals := totalsFor(h)
		summary.Issued += totals.issued
		summary.Completed += totals.completed
		fluency = append(fluency, totals.fluency...)
		accuracy = append(accuracy, totals.accuracy...)

		row := SummarizeStudent(h, openFlags[h.StudentID], rules, now)
		summary.TrendHistogram[row.Trend]++
		if row.NeedsAttention {
			summary.StudentsNeedingAttention++
		}
		rows = append(rows, row)
	}
	summary.CompletionRate = CompletionRate(summary.Completed, summary.Issued)
	summary.AverageFluency = Average(fluency)
	summary.AverageAccuracy = Average(accuracy)
	return summary, rows
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}
