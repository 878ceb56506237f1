package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/pkg/config"
)

// FlagRules are the thresholds the engine evaluates against.
type FlagRules struct {
	SubmissionWindow int
	MinAssignments   int
	SubmissionRatio  float64
	GapDays          int
	TrendWindow      int
	DeclineDelta     float64
}

// DefaultFlagRules returns the documented default thresholds.
func DefaultFlagRules() FlagRules {
	return FlagRules{
		SubmissionWindow: 10,
		MinAssignments:   2,
		SubmissionRatio:  0.5,
		GapDays:          7,
		TrendWindow:      3,
		DeclineDelta:     1.0,
	}
}

// FlagRulesFromConfig fills unset values with defaults.
func FlagRulesFromConfig(cfg config.FlagsConfig) FlagRules {
	rules := DefaultFlagRules()
	if cfg.SubmissionWindow > 0 {
		rules.SubmissionWindow = cfg.SubmissionWindow
	}
	if cfg.MinAssignments > 0 {
		rules.MinAssignments = cfg.MinAssignments
	}
	if cfg.SubmissionRatio > 0 {
		rules.SubmissionRatio = cfg.SubmissionRatio
	}
	if cfg.GapDays > 0 {
		rules.GapDays = cfg.GapDays
	}
	if cfg.TrendWindow > 0 {
		rules.TrendWindow = cfg.TrendWindow
	}
	if cfg.DeclineDelta > 0 {
		rules.DeclineDelta = cfg.DeclineDelta
	}
	return rules
}

// SeverityFor maps how many times past its threshold a rule fired onto a severity band.
func SeverityFor(excess float64) models.Severity {
	switch {
	case excess < 1.5:
		return models.SeverityLow
	case excess < 2:
		return models.SeverityMedium
	case excess < 3:
		return models.SeverityHigh
	default:
		return models.SeverityUrgent
	}
}

// EvaluateStudent runs every rule over one history. It is deterministic for a given input and now.
func EvaluateStudent(h *models.StudentHistory, rules FlagRules, now time.Time) []models.FlagEmission {
	if h == nil {
		return nil
	}
	var out []models.FlagEmission
	if e, ok := evaluateSubmissionRate(h, rules); ok {
		out = append(out, e)
	}
	if e, ok := evaluateSubmissionGap(h, rules, now); ok {
		out = append(out, e)
	}
	if e, ok := evaluateDecline(h, rules); ok {
		out = append(out, e)
	}
	return out
}

func evaluateSubmissionRate(h *models.StudentHistory, rules FlagRules) (models.FlagEmission, bool) {
	issued := append([]models.IssuedAssignment(nil), h.Assignments...)
	sort.SliceStable(issued, func(i, j int) bool {
		if issued[i].IssuedAt.Equal(issued[j].IssuedAt) {
			return issued[i].AssignmentID < issued[j].AssignmentID
		}
		return issued[i].IssuedAt.After(issued[j].IssuedAt)
	})
	if rules.SubmissionWindow > 0 && len(issued) > rules.SubmissionWindow {
		issued = issued[:rules.SubmissionWindow]
	}
	if len(issued) == 0 || len(issued) < rules.MinAssignments {
		return models.FlagEmission{}, false
	}

	completed := 0
	ids := make([]string, 0, len(issued))
	for _, a := range issued {
		ids = append(ids, a.AssignmentID)
		if a.CompletedAt != nil {
			completed++
		}
	}
	ratio := float64(completed) / float64(len(issued))
	if ratio >= rules.SubmissionRatio {
		return models.FlagEmission{}, false
	}

	severity := models.SeverityUrgent
	if ratio > 0 {
		severity = SeverityFor(rules.SubmissionRatio / ratio)
	}
	return models.FlagEmission{
		StudentID:   h.StudentID,
		Type:        models.FlagLowSubmissionRate,
		Severity:    severity,
		Description: fmt.Sprintf("Completed %d of the last %d assignments (%.1f%%)", completed, len(issued), Round1(ratio*100)),
		WindowKey:   fmt.Sprintf("rate:%s:%d", fingerprint(ids), completed),
	}, true
}

func evaluateSubmissionGap(h *models.StudentHistory, rules FlagRules, now time.Time) (models.FlagEmission, bool) {
	if rules.GapDays <= 0 {
		return models.FlagEmission{}, false
	}
	var (
		reference time.Time
		key       string
		never     bool
	)
	for _, r := range h.Recordings {
		if reference.IsZero() || r.CreatedAt.After(reference) {
			reference = r.CreatedAt
			key = "gap:" + r.ID
		}
	}
	if reference.IsZero() {
		var first string
		for _, a := range h.Assignments {
			if reference.IsZero() || a.IssuedAt.Before(reference) || (a.IssuedAt.Equal(reference) && a.AssignmentID < first) {
				reference = a.IssuedAt
				first = a.AssignmentID
			}
		}
		key = "gap:never:" + first
		never = true
	}
	if reference.IsZero() {
		return models.FlagEmission{}, false
	}

	days := daysBetween(reference, now)
	if days <= rules.GapDays {
		return models.FlagEmission{}, false
	}
	description := fmt.Sprintf("No recordings submitted in %d days", days)
	if never {
		description = fmt.Sprintf("No recordings submitted since the first assignment %d days ago", days)
	}
	return models.FlagEmission{
		StudentID:   h.StudentID,
		Type:        models.FlagSubmissionGap,
		Severity:    SeverityFor(float64(days) / float64(rules.GapDays)),
		Description: description,
		WindowKey:   key,
	}, true
}

func evaluateDecline(h *models.StudentHistory, rules FlagRules) (models.FlagEmission, bool) {
	if rules.DeclineDelta <= 0 {
		return models.FlagEmission{}, false
	}
	recent, prior := scoreWindows(reviewedSamples(h.Recordings), rules.TrendWindow)
	recentMean, priorMean, ok := windowMeans(recent, prior)
	if !ok {
		return models.FlagEmission{}, false
	}
	delta := recentMean - priorMean
	if delta > -rules.DeclineDelta {
		return models.FlagEmission{}, false
	}

	ids := make([]string, 0, len(recent)+len(prior))
	for _, s := range prior {
		ids = append(ids, s.ID)
	}
	for _, s := range recent {
		ids = append(ids, s.ID)
	}
	return models.FlagEmission{
		StudentID:   h.StudentID,
		Type:        models.FlagDecliningScores,
		Severity:    SeverityFor(math.Abs(delta) / rules.DeclineDelta),
		Description: fmt.Sprintf("Average combined score fell from %.1f to %.1f", Round1(priorMean), Round1(recentMean)),
		WindowKey:   "decline:" + fingerprint(ids),
	}, true
}

func fingerprint(ids []string) string {
	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:8])
}
