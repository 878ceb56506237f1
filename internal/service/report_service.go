package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/export"
)

type reportAnalytics interface {
	analyticsReader
	ClassAssignments(ctx context.Context, classID string) ([]models.Assignment, error)
	StudentRecordings(ctx context.Context, studentID string) ([]models.Recording, error)
	SchoolTotals(ctx context.Context) (*models.SchoolTotals, error)
}

type reportClassStore interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
	ListMembers(ctx context.Context, classID string) ([]models.ClassMember, error)
}

type openFlagCounter interface {
	OpenCountByStudent(ctx context.Context, studentIDs []string) (map[string]int, error)
}

var reportDefinitions = []models.ReportDefinition{
	{Type: models.ReportTeacherSummary, Name: "Teacher summary", Description: "One row per class with completion, scores and flags"},
	{Type: models.ReportClassPerformance, Name: "Class performance", Description: "One row per student of a class", Requires: []string{"class_id"}},
	{Type: models.ReportGradebook, Name: "Gradebook", Description: "Grades and scores per student and assignment", Requires: []string{"class_id"}},
	{Type: models.ReportStudentProgress, Name: "Student progress", Description: "Every recording of one student", Requires: []string{"student_id"}},
	{Type: models.ReportSchoolWide, Name: "School wide", Description: "School totals in a single row"},
}

var reportFormats = []models.ReportFormat{models.ReportFormatCSV, models.ReportFormatJSON, models.ReportFormatPDF}

const classPageSize = 100

// ReportService builds the downloadable reports.
type ReportService struct {
	analytics reportAnalytics
	classes   reportClassStore
	flags     openFlagCounter
	users     userFinder
	exporter  *ExportService
	rules     FlagRules
	logger    *zap.Logger
	now       func() time.Time
}

// NewReportService constructs the report generator.
func NewReportService(analytics reportAnalytics, classes reportClassStore, flags openFlagCounter, users userFinder, exporter *ExportService, rules FlagRules, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exporter == nil {
		exporter = NewExportService(nil, nil, nil)
	}
	if rules == (FlagRules{}) {
		rules = DefaultFlagRules()
	}
	return &ReportService{
		analytics: analytics,
		classes:   classes,
		flags:     flags,
		users:     users,
		exporter:  exporter,
		rules:     rules,
		logger:    logger,
		now:       time.Now,
	}
}

// AvailableReports lists the reports the principal may download.
func (s *ReportService) AvailableReports(principal *models.JWTClaims) ([]models.ReportDefinition, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	out := make([]models.ReportDefinition, 0, len(reportDefinitions))
	for _, def := range reportDefinitions {
		if def.Type == models.ReportSchoolWide && principal.Role != models.RoleAdmin {
			continue
		}
		def.Formats = reportFormats
		out = append(out, def)
	}
	return out, nil
}

// Generate builds and renders one report. Out-of-scope classes and students are NotFound.
func (s *ReportService) Generate(ctx context.Context, principal *models.JWTClaims, req models.ReportRequest) (*models.ReportFile, error) {
	teacherID, err := staffScope(principal)
	if err != nil {
		return nil, err
	}
	if req.Format == "" {
		req.Format = models.ReportFormatCSV
	}
	if !validFormat(req.Format) {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "unsupported report format", map[string]string{"format": "must be one of csv json pdf"})
	}

	var (
		data  export.Dataset
		title string
	)
	switch req.Type {
	case models.ReportTeacherSummary:
		data, err = s.teacherSummary(ctx, teacherID)
		title = "Teacher summary"
	case models.ReportClassPerformance:
		var class *models.Class
		if class, err = s.scopedClass(ctx, teacherID, req.ClassID); err == nil {
			data, err = s.classPerformance(ctx, class)
			title = "Class performance: " + class.Name
		}
	case models.ReportGradebook:
		var class *models.Class
		if class, err = s.scopedClass(ctx, teacherID, req.ClassID); err == nil {
			data, err = s.gradebook(ctx, class)
			title = "Gradebook: " + class.Name
		}
	case models.ReportStudentProgress:
		var student *models.User
		if student, err = s.scopedStudent(ctx, teacherID, req.StudentID); err == nil {
			data, err = s.studentProgress(ctx, student)
			title = "Student progress: " + student.FullName
		}
	case models.ReportSchoolWide:
		if principal.Role != models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "school wide report requires administrator role")
		}
		data, err = s.schoolWide(ctx, principal)
		title = "School wide"
	default:
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "unsupported report type", map[string]string{"type": "unknown report"})
	}
	if err != nil {
		return nil, err
	}

	file, err := s.exporter.Render(req.Type, req.Format, title, data)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render report")
	}
	s.logger.Info("report generated", zap.String("type", string(req.Type)), zap.String("format", string(req.Format)), zap.Int("rows", len(data.Rows)), zap.String("user_id", principal.UserID))
	return file, nil
}

func validFormat(f models.ReportFormat) bool {
	for _, known := range reportFormats {
		if f == known {
			return true
		}
	}
	return false
}

func (s *ReportService) scopedClass(ctx context.Context, teacherID, classID string) (*models.Class, error) {
	if classID == "" {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "class_id is required", map[string]string{"class_id": "is required"})
	}
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Internal(err, "failed to load class")
	}
	if teacherID != "" && class.TeacherID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	return class, nil
}

func (s *ReportService) scopedStudent(ctx context.Context, teacherID, studentID string) (*models.User, error) {
	if studentID == "" {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "student_id is required", map[string]string{"student_id": "is required"})
	}
	user, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	if user.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	if teacherID != "" {
		ok, err := s.analytics.TeacherHasStudent(ctx, teacherID, studentID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check student scope")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
	}
	return user, nil
}

// classGroup summarizes one class roster over that class's assignments only.
func (s *ReportService) classGroup(ctx context.Context, class *models.Class) (models.GroupSummary, []models.StudentMetrics, []models.ClassMember, map[string]*models.StudentHistory, error) {
	members, err := s.classes.ListMembers(ctx, class.ID)
	if err != nil {
		return models.GroupSummary{}, nil, nil, nil, appErrors.Internal(err, "failed to list class members")
	}
	refs := make([]models.StudentRef, 0, len(members))
	for _, m := range members {
		refs = append(refs, models.StudentRef{ID: m.StudentID, FullName: m.FullName, Email: m.Email})
	}
	histories, err := s.analytics.Histories(ctx, refs, models.HistoryScope{ClassID: class.ID})
	if err != nil {
		return models.GroupSummary{}, nil, nil, nil, appErrors.Internal(err, "failed to load student histories")
	}
	open, err := s.flags.OpenCountByStudent(ctx, studentIDs(refs))
	if err != nil {
		return models.GroupSummary{}, nil, nil, nil, appErrors.Internal(err, "failed to count open flags")
	}
	summary, rows := SummarizeGroup(ordered(refs, histories), open, s.rules, s.now().UTC())
	return summary, rows, members, histories, nil
}

func (s *ReportService) listClasses(ctx context.Context, teacherID string) ([]models.Class, error) {
	var out []models.Class
	for page := 1; ; page++ {
		classes, total, err := s.classes.List(ctx, models.ClassFilter{TeacherID: teacherID, Page: page, PageSize: classPageSize})
		if err != nil {
			return nil, appErrors.Internal(err, "failed to list classes")
		}
		out = append(out, classes...)
		if len(classes) == 0 || len(out) >= total {
			return out, nil
		}
	}
}

func (s *ReportService) teacherSummary(ctx context.Context, teacherID string) (export.Dataset, error) {
	data := export.Dataset{Headers: []string{
		"class_name", "grade_level", "school_year", "total_students", "issued", "completed", "completion_rate",
		"average_fluency", "average_accuracy", "students_needing_attention", "active_flags",
	}}
	classes, err := s.listClasses(ctx, teacherID)
	if err != nil {
		return data, err
	}
	for i := range classes {
		class := &classes[i]
		summary, rows, _, _, err := s.classGroup(ctx, class)
		if err != nil {
			return data, err
		}
		flags := 0
		for _, row := range rows {
			flags += row.OpenFlags
		}
		data.Rows = append(data.Rows, map[string]any{
			"class_name":                 class.Name,
			"grade_level":                class.GradeLevel,
			"school_year":                class.SchoolYear,
			"total_students":             summary.TotalStudents,
			"issued":                     summary.Issued,
			"completed":                  summary.Completed,
			"completion_rate":            summary.CompletionRate,
			"average_fluency":            summary.AverageFluency,
			"average_accuracy":           summary.AverageAccuracy,
			"students_needing_attention": summary.StudentsNeedingAttention,
			"active_flags":               flags,
		})
	}
	return data, nil
}

func (s *ReportService) classPerformance(ctx context.Context, class *models.Class) (export.Dataset, error) {
	data := export.Dataset{Headers: []string{
		"student_name", "email", "total_assignments", "completed_assignments", "completion_rate", "total_recordings",
		"reviewed_recordings", "average_fluency", "average_accuracy", "trend", "days_since_last_submission",
		"missed_deadlines", "open_flags", "needs_attention",
	}}
	_, rows, members, _, err := s.classGroup(ctx, class)
	if err != nil {
		return data, err
	}
	emails := make(map[string]string, len(members))
	for _, m := range members {
		emails[m.StudentID] = m.Email
	}
	for _, row := range rows {
		data.Rows = append(data.Rows, map[string]any{
			"student_name":               row.FullName,
			"email":                      emails[row.StudentID],
			"total_assignments":          row.TotalAssignments,
			"completed_assignments":      row.CompletedAssignments,
			"completion_rate":            row.CompletionRate,
			"total_recordings":           row.TotalRecordings,
			"reviewed_recordings":        row.ReviewedRecordings,
			"average_fluency":            row.AverageFluency,
			"average_accuracy":           row.AverageAccuracy,
			"trend":                      string(row.Trend),
			"days_since_last_submission": row.DaysSinceLastSubmission,
			"missed_deadlines":           row.MissedDeadlines,
			"open_flags":                 row.OpenFlags,
			"needs_attention":            row.NeedsAttention,
		})
	}
	return data, nil
}

func (s *ReportService) gradebook(ctx context.Context, class *models.Class) (export.Dataset, error) {
	assignments, err := s.analytics.ClassAssignments(ctx, class.ID)
	if err != nil {
		return export.Dataset{}, appErrors.Internal(err, "failed to list class assignments")
	}
	_, rows, members, histories, err := s.classGroup(ctx, class)
	if err != nil {
		return export.Dataset{}, err
	}

	headers := []string{"student_id", "student_name", "email"}
	prefixes := gradebookPrefixes(assignments)
	for _, a := range assignments {
		p := prefixes[a.ID]
		headers = append(headers, p+"_grade", p+"_fluency", p+"_accuracy", p+"_submitted")
	}
	headers = append(headers, "overall_completion_rate", "overall_fluency_avg", "overall_accuracy_avg")
	data := export.Dataset{Headers: headers}

	byStudent := make(map[string]models.StudentMetrics, len(rows))
	for _, row := range rows {
		byStudent[row.StudentID] = row
	}
	for _, m := range members {
		row := map[string]any{"student_id": m.StudentID, "student_name": m.FullName, "email": m.Email}
		h := histories[m.StudentID]
		for _, a := range assignments {
			p := prefixes[a.ID]
			best := latestReviewed(h, a.ID)
			row[p+"_submitted"] = submittedOn(h, a.ID)
			if best == nil {
				row[p+"_grade"], row[p+"_fluency"], row[p+"_accuracy"] = nil, nil, nil
				continue
			}
			if best.Grade != nil {
				if score, ok := best.Grade.Score(); ok {
					row[p+"_grade"] = score
				}
			}
			row[p+"_fluency"] = best.FluencyScore
			row[p+"_accuracy"] = best.AccuracyScore
		}
		metrics := byStudent[m.StudentID]
		row["overall_completion_rate"] = metrics.CompletionRate
		row["overall_fluency_avg"] = metrics.AverageFluency
		row["overall_accuracy_avg"] = metrics.AverageAccuracy
		data.Rows = append(data.Rows, row)
	}
	return data, nil
}

// gradebookPrefixes keys columns by assignment title, suffixing repeats so no column is overwritten.
func gradebookPrefixes(assignments []models.Assignment) map[string]string {
	seen := make(map[string]int, len(assignments))
	out := make(map[string]string, len(assignments))
	for _, a := range assignments {
		seen[a.Title]++
		if n := seen[a.Title]; n > 1 {
			out[a.ID] = fmt.Sprintf("%s_%d", a.Title, n)
		} else {
			out[a.ID] = a.Title
		}
	}
	return out
}

func latestReviewed(h *models.StudentHistory, assignmentID string) *models.RecordingSample {
	if h == nil {
		return nil
	}
	var best *models.RecordingSample
	for i := range h.Recordings {
		r := &h.Recordings[i]
		if r.AssignmentID == nil || *r.AssignmentID != assignmentID || r.Status != models.RecordingStatusReviewed {
			continue
		}
		if best == nil || reviewTime(*r).After(reviewTime(*best)) {
			best = r
		}
	}
	return best
}

func submittedOn(h *models.StudentHistory, assignmentID string) any {
	if h == nil {
		return nil
	}
	for _, a := range h.Assignments {
		if a.AssignmentID == assignmentID && a.CompletedAt != nil {
			return a.CompletedAt.UTC().Format("2006-01-02")
		}
	}
	return nil
}

func (s *ReportService) studentProgress(ctx context.Context, student *models.User) (export.Dataset, error) {
	data := export.Dataset{Headers: []string{
		"date", "story_title", "assignment_title", "attempt_number", "duration_seconds", "status",
		"fluency_score", "accuracy_score", "grade", "feedback", "reviewed_at",
	}}
	recs, err := s.analytics.StudentRecordings(ctx, student.ID)
	if err != nil {
		return data, appErrors.Internal(err, "failed to load recordings")
	}
	for _, r := range recs {
		assignment := "practice"
		if r.AssignmentTitle != nil {
			assignment = *r.AssignmentTitle
		}
		var grade any
		if r.Grade != nil {
			grade = string(*r.Grade)
		}
		var feedback any
		if r.Feedback != nil {
			feedback = *r.Feedback
		}
		data.Rows = append(data.Rows, map[string]any{
			"date":             r.CreatedAt.UTC().Format("2006-01-02"),
			"story_title":      r.StoryTitle,
			"assignment_title": assignment,
			"attempt_number":   r.AttemptNumber,
			"duration_seconds": Round1(r.DurationSeconds),
			"status":           string(r.Status),
			"fluency_score":    r.FluencyScore,
			"accuracy_score":   r.AccuracyScore,
			"grade":            grade,
			"feedback":         feedback,
			"reviewed_at":      r.ReviewedAt,
		})
	}
	return data, nil
}

func (s *ReportService) schoolWide(ctx context.Context, principal *models.JWTClaims) (export.Dataset, error) {
	data := export.Dataset{Headers: []string{
		"report_date", "total_students", "total_teachers", "total_classes", "total_assignments", "total_recordings",
		"reviewed_recordings", "review_completion_rate", "overall_completion_rate", "overall_fluency", "overall_accuracy",
		"active_flags", "urgent_flags", "students_needing_attention", "attention_percentage",
	}}
	totals, err := s.analytics.SchoolTotals(ctx)
	if err != nil {
		return data, appErrors.Internal(err, "failed to load school totals")
	}
	_, histories, err := scopedHistories(ctx, s.analytics, principal, "")
	if err != nil {
		return data, err
	}
	summary, _ := SummarizeGroup(histories, nil, s.rules, s.now().UTC())
	data.Rows = append(data.Rows, map[string]any{
		"report_date":                s.now().UTC().Format("2006-01-02"),
		"total_students":             totals.Students,
		"total_teachers":             totals.Teachers,
		"total_classes":              totals.Classes,
		"total_assignments":          totals.Assignments,
		"total_recordings":           totals.Recordings,
		"reviewed_recordings":        totals.ReviewedRecordings,
		"review_completion_rate":     CompletionRate(totals.ReviewedRecordings, totals.Recordings),
		"overall_completion_rate":    summary.CompletionRate,
		"overall_fluency":            summary.AverageFluency,
		"overall_accuracy":           summary.AverageAccuracy,
		"active_flags":               totals.ActiveFlags,
		"urgent_flags":               totals.UrgentFlags,
		"students_needing_attention": summary.StudentsNeedingAttention,
		"attention_percentage":       CompletionRate(summary.StudentsNeedingAttention, summary.TotalStudents),
	})
	return data, nil
}
