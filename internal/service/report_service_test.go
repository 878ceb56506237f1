package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
)

type stubReportAnalytics struct {
	*stubAnalytics
	assignments []models.Assignment
	recordings  []models.Recording
	totals      models.SchoolTotals
}

func (a *stubReportAnalytics) ClassAssignments(ctx context.Context, classID string) ([]models.Assignment, error) {
	return a.assignments, nil
}

func (a *stubReportAnalytics) StudentRecordings(ctx context.Context, studentID string) ([]models.Recording, error) {
	return a.recordings, nil
}

func (a *stubReportAnalytics) SchoolTotals(ctx context.Context) (*models.SchoolTotals, error) {
	return &a.totals, nil
}

type stubReportClasses struct {
	classes []models.Class
	members map[string][]models.ClassMember
}

func (c *stubReportClasses) FindByID(ctx context.Context, id string) (*models.Class, error) {
	for i := range c.classes {
		if c.classes[i].ID == id {
			return &c.classes[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (c *stubReportClasses) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	var out []models.Class
	for _, class := range c.classes {
		if filter.TeacherID == "" || class.TeacherID == filter.TeacherID {
			out = append(out, class)
		}
	}
	return out, len(out), nil
}

func (c *stubReportClasses) ListMembers(ctx context.Context, classID string) ([]models.ClassMember, error) {
	return c.members[classID], nil
}

type stubOpenFlags map[string]int

func (f stubOpenFlags) OpenCountByStudent(ctx context.Context, studentIDs []string) (map[string]int, error) {
	return f, nil
}

type stubUsers map[string]*models.User

func (u stubUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := u[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func newReportFixture() *ReportService {
	fluency, accuracy := 4, 3
	grade := models.GradeGood
	reviewedAt := daysAgo(2)
	a1 := "a1"
	analytics := &stubReportAnalytics{
		stubAnalytics: &stubAnalytics{
			students:  []models.StudentRef{{ID: "s1", FullName: "Ana"}, {ID: "s2", FullName: "Ben"}},
			teacherOf: map[string]string{"s1": "t1", "s2": "t1"},
			histories: map[string]*models.StudentHistory{
				"s1": {
					StudentID:   "s1",
					FullName:    "Ana",
					Assignments: []models.IssuedAssignment{issued("a1", 10, true), issued("a2", 9, true), issued("a3", 8, false)},
					Recordings: []models.RecordingSample{{
						ID: "r1", AssignmentID: &a1, Status: models.RecordingStatusReviewed, FluencyScore: &fluency,
						AccuracyScore: &accuracy, Grade: &grade, CreatedAt: daysAgo(3), ReviewedAt: &reviewedAt,
					}},
				},
				"s2": {StudentID: "s2", FullName: "Ben", Assignments: []models.IssuedAssignment{issued("a1", 10, false)}},
			},
		},
		assignments: []models.Assignment{{ID: "a1", Title: "Fox"}, {ID: "a2", Title: "Fox"}, {ID: "a3", Title: "Owl"}},
		totals:      models.SchoolTotals{Students: 2, Teachers: 1, Classes: 1, Recordings: 4, ReviewedRecordings: 1},
	}
	classes := &stubReportClasses{
		classes: []models.Class{{ID: "c1", Name: "Robins", TeacherID: "t1", GradeLevel: "2"}},
		members: map[string][]models.ClassMember{"c1": {
			{ClassID: "c1", StudentID: "s1", FullName: "Ana", Email: "ana@school.org"},
			{ClassID: "c1", StudentID: "s2", FullName: "Ben", Email: "ben@school.org"},
		}},
	}
	users := stubUsers{
		"s1": {ID: "s1", FullName: "Ana", Role: models.RoleStudent},
		"t1": {ID: "t1", FullName: "Tess", Role: models.RoleTeacher},
	}
	svc := NewReportService(analytics, classes, stubOpenFlags{"s2": 1}, users, nil, DefaultFlagRules(), nil)
	svc.now = func() time.Time { return engineNow }
	svc.exporter.now = func() time.Time { return engineNow }
	return svc
}

var teacherT1 = &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}

func readCSV(t *testing.T, content []byte) []map[string]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(content)).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	out := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(rec))
		for i, h := range records[0] {
			row[h] = rec[i]
		}
		out = append(out, row)
	}
	return out
}

func TestReportServiceClassPerformanceFormatsAgree(t *testing.T) {
	svc := newReportFixture()
	ctx := context.Background()

	file, err := svc.Generate(ctx, teacherT1, models.ReportRequest{Type: models.ReportClassPerformance, ClassID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "class_performance_20260320.csv", file.Filename)
	rows := readCSV(t, file.Content)
	require.Len(t, rows, 2)
	assert.Equal(t, "66.7", rows[0]["completion_rate"])
	assert.Equal(t, "ana@school.org", rows[0]["email"])
	assert.Equal(t, "0", rows[1]["completion_rate"])
	assert.Equal(t, "1", rows[1]["open_flags"])

	file, err = svc.Generate(ctx, teacherT1, models.ReportRequest{Type: models.ReportClassPerformance, Format: models.ReportFormatJSON, ClassID: "c1"})
	require.NoError(t, err)
	var doc struct {
		ReportType string                   `json:"report_type"`
		Data       []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(file.Content, &doc))
	assert.Equal(t, "class_performance", doc.ReportType)
	require.Len(t, doc.Data, 2)
	assert.Equal(t, 66.7, doc.Data[0]["completion_rate"])
	assert.Nil(t, doc.Data[1]["average_fluency"])

	file, err = svc.Generate(ctx, teacherT1, models.ReportRequest{Type: models.ReportClassPerformance, Format: models.ReportFormatPDF, ClassID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Content, []byte("%PDF")))
}

func TestReportServiceGradebook(t *testing.T) {
	svc := newReportFixture()

	file, err := svc.Generate(context.Background(), teacherT1, models.ReportRequest{Type: models.ReportGradebook, ClassID: "c1"})
	require.NoError(t, err)
	rows := readCSV(t, file.Content)
	require.Len(t, rows, 2)

	ana := rows[0]
	assert.Equal(t, "85", ana["Fox_grade"])
	assert.Equal(t, "4", ana["Fox_fluency"])
	assert.Equal(t, daysAgo(9).Format("2006-01-02"), ana["Fox_submitted"])
	assert.Equal(t, "", ana["Fox_2_grade"])
	assert.Equal(t, daysAgo(8).Format("2006-01-02"), ana["Fox_2_submitted"])
	assert.Equal(t, "", ana["Owl_submitted"])

	ben := rows[1]
	assert.Equal(t, "", ben["Fox_grade"])
	assert.Equal(t, "0", ben["overall_completion_rate"])
}

func TestReportServiceTeacherSummary(t *testing.T) {
	svc := newReportFixture()

	file, err := svc.Generate(context.Background(), teacherT1, models.ReportRequest{Type: models.ReportTeacherSummary})
	require.NoError(t, err)
	rows := readCSV(t, file.Content)
	require.Len(t, rows, 1)
	assert.Equal(t, "Robins", rows[0]["class_name"])
	assert.Equal(t, "4", rows[0]["issued"])
	assert.Equal(t, "2", rows[0]["completed"])
	assert.Equal(t, "50", rows[0]["completion_rate"])
	assert.Equal(t, "1", rows[0]["active_flags"])
}

func TestReportServiceScopeAndValidation(t *testing.T) {
	svc := newReportFixture()
	ctx := context.Background()
	other := &models.JWTClaims{UserID: "t9", Role: models.RoleTeacher}

	_, err := svc.Generate(ctx, other, models.ReportRequest{Type: models.ReportClassPerformance, ClassID: "c1"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Generate(ctx, other, models.ReportRequest{Type: models.ReportStudentProgress, StudentID: "s1"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Generate(ctx, teacherT1, models.ReportRequest{Type: models.ReportStudentProgress, StudentID: "t1"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Generate(ctx, teacherT1, models.ReportRequest{Type: models.ReportClassPerformance})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Generate(ctx, teacherT1, models.ReportRequest{Type: "attendance"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Generate(ctx, teacherT1, models.ReportRequest{Type: models.ReportTeacherSummary, Format: "xlsx"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Generate(ctx, teacherT1, models.ReportRequest{Type: models.ReportSchoolWide})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Generate(ctx, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, models.ReportRequest{Type: models.ReportTeacherSummary})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportServiceSchoolWide(t *testing.T) {
	svc := newReportFixture()
	admin := &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}

	file, err := svc.Generate(context.Background(), admin, models.ReportRequest{Type: models.ReportSchoolWide})
	require.NoError(t, err)
	rows := readCSV(t, file.Content)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-20", rows[0]["report_date"])
	assert.Equal(t, "25", rows[0]["review_completion_rate"])
	assert.Equal(t, "50", rows[0]["overall_completion_rate"])
}

func TestReportServiceAvailableReports(t *testing.T) {
	svc := newReportFixture()

	teacherReports, err := svc.AvailableReports(teacherT1)
	require.NoError(t, err)
	assert.Len(t, teacherReports, 4)

	adminReports, err := svc.AvailableReports(&models.JWTClaims{UserID: "a1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, adminReports, 5)
	assert.Len(t, adminReports[0].Formats, 3)
}
