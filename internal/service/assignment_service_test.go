package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
)

const (
	assignClass = "55555555-5555-5555-5555-555555555555"
	assignStory = "66666666-6666-6666-6666-666666666666"
)

// memAssignments issues one progress row per roster member on Create,
// mirroring the transactional insert.
type memAssignments struct {
	classes     *memClasses
	assignments map[string]*models.Assignment
	progress    map[string]*models.StudentAssignment
	takenCodes  map[string]bool
	seq         int
}

func newMemAssignments(classes *memClasses) *memAssignments {
	return &memAssignments{
		classes:     classes,
		assignments: map[string]*models.Assignment{},
		progress:    map[string]*models.StudentAssignment{},
		takenCodes:  map[string]bool{},
	}
}

func (m *memAssignments) Create(ctx context.Context, a *models.Assignment) (int, error) {
	if m.takenCodes[a.JoinCode] {
		return 0, &pq.Error{Code: "23505"}
	}
	m.takenCodes[a.JoinCode] = true
	m.seq++
	a.ID = fmt.Sprintf("assignment-%d", m.seq)
	copied := *a
	m.assignments[a.ID] = &copied
	m.issue(a.ID)
	return len(m.progressFor(a.ID)), nil
}

func (m *memAssignments) issue(assignmentID string) {
	a := m.assignments[assignmentID]
	for studentID, active := range m.classes.members[a.ClassID] {
		key := progressKey(assignmentID, studentID)
		if _, ok := m.progress[key]; active && !ok {
			m.progress[key] = &models.StudentAssignment{AssignmentID: assignmentID, StudentID: studentID, MaxAttempts: a.MaxAttempts}
		}
	}
}

func (m *memAssignments) progressFor(assignmentID string) []models.StudentAssignment {
	var out []models.StudentAssignment
	for _, p := range m.progress {
		if p.AssignmentID == assignmentID {
			out = append(out, *p)
		}
	}
	return out
}

func (m *memAssignments) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	a, ok := m.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (m *memAssignments) FindByJoinCode(ctx context.Context, code string) (*models.Assignment, error) {
	for _, a := range m.assignments {
		if a.JoinCode == code && a.Active {
			copied := *a
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memAssignments) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	var out []models.Assignment
	for _, a := range m.assignments {
		if filter.TeacherID != "" && a.TeacherID != filter.TeacherID {
			continue
		}
		if filter.StudentID != "" {
			if _, ok := m.progress[progressKey(a.ID, filter.StudentID)]; !ok {
				continue
			}
		}
		if filter.ActiveOnly && !a.Active {
			continue
		}
		out = append(out, *a)
	}
	return out, len(out), nil
}

func (m *memAssignments) Deactivate(ctx context.Context, id string) (bool, error) {
	a, ok := m.assignments[id]
	if !ok || !a.Active {
		return false, nil
	}
	a.Active = false
	return true, nil
}

func (m *memAssignments) FindProgress(ctx context.Context, assignmentID, studentID string) (*models.StudentAssignment, error) {
	p, ok := m.progress[progressKey(assignmentID, studentID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *p
	return &copied, nil
}

func (m *memAssignments) ListProgress(ctx context.Context, assignmentID string) ([]models.StudentAssignment, error) {
	return m.progressFor(assignmentID), nil
}

// joiningClasses issues open assignments when a member is added, as the
// roster repository does inside its transaction.
type joiningClasses struct {
	*memClasses
	assignments *memAssignments
}

func (j *joiningClasses) AddMember(ctx context.Context, classID, studentID string) error {
	if err := j.memClasses.AddMember(ctx, classID, studentID); err != nil {
		return err
	}
	for id, a := range j.assignments.assignments {
		if a.ClassID == classID && a.Active {
			j.assignments.issue(id)
		}
	}
	return nil
}

type assignmentFixture struct {
	svc         *AssignmentService
	classes     *memClasses
	assignments *memAssignments
}

func newAssignmentFixture(codes ...string) *assignmentFixture {
	classes := newMemClasses()
	classes.classes[assignClass] = &models.Class{ID: assignClass, Name: "Robins", TeacherID: classTeacher}
	classes.members[assignClass] = map[string]bool{"s1": true, "s2": true, "s3": false}
	assignments := newMemAssignments(classes)
	roster := NewClassService(classes, stubUsers{}, nil, nil)
	stories := stubStories{
		assignStory: {ID: assignStory, Title: "The Fox", Active: true},
		storyB:      {ID: storyB, Title: "Retired", Active: false},
	}
	svc := NewAssignmentService(assignments, roster, &joiningClasses{memClasses: classes, assignments: assignments}, stories, nil, nil)
	if len(codes) > 0 {
		next := 0
		svc.newCode = func() (string, error) {
			code := codes[next%len(codes)]
			next++
			return code, nil
		}
	}
	return &assignmentFixture{svc: svc, classes: classes, assignments: assignments}
}

func validAssignmentRequest() dto.CreateAssignmentRequest {
	return dto.CreateAssignmentRequest{ClassID: assignClass, StoryID: assignStory, Title: "Read the fox", MaxAttempts: intPtr(3)}
}

var assignOwner = &models.JWTClaims{UserID: classTeacher, Role: models.RoleTeacher}

func TestAssignmentServiceIssuesToActiveMembers(t *testing.T) {
	f := newAssignmentFixture("ABC234")

	created, err := f.svc.CreateAssignment(context.Background(), assignOwner, validAssignmentRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, created.Issued)
	assert.Equal(t, "ABC234", created.Assignment.JoinCode)
	assert.Equal(t, "The Fox", created.Assignment.StoryTitle)
	assert.Equal(t, "Robins", created.Assignment.ClassName)
	assert.Equal(t, classTeacher, created.Assignment.TeacherID)

	overview, err := f.svc.GetProgressOverview(context.Background(), assignOwner, created.Assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, overview.Issued)
	assert.Equal(t, 0, overview.Completed)
	assert.Equal(t, 0.0, overview.CompletionRate)
}

func TestAssignmentServiceRetriesJoinCodeCollision(t *testing.T) {
	f := newAssignmentFixture("DUPE22", "DUPE22", "FRESH3")
	ctx := context.Background()

	first, err := f.svc.CreateAssignment(ctx, assignOwner, validAssignmentRequest())
	require.NoError(t, err)
	second, err := f.svc.CreateAssignment(ctx, assignOwner, validAssignmentRequest())
	require.NoError(t, err)
	assert.Equal(t, "DUPE22", first.Assignment.JoinCode)
	assert.Equal(t, "FRESH3", second.Assignment.JoinCode)
	assert.NotEqual(t, first.Assignment.ID, second.Assignment.ID)
}

func TestAssignmentServiceCreateValidation(t *testing.T) {
	f := newAssignmentFixture()
	ctx := context.Background()

	req := validAssignmentRequest()
	req.StoryID = storyB
	_, err := f.svc.CreateAssignment(ctx, assignOwner, req)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	req = validAssignmentRequest()
	req.MaxAttempts = intPtr(0)
	_, err = f.svc.CreateAssignment(ctx, assignOwner, req)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.CreateAssignment(ctx, &models.JWTClaims{UserID: "t-other", Role: models.RoleTeacher}, validAssignmentRequest())
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.CreateAssignment(ctx, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, validAssignmentRequest())
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceJoinByCode(t *testing.T) {
	f := newAssignmentFixture("JOIN42")
	ctx := context.Background()
	created, err := f.svc.CreateAssignment(ctx, assignOwner, validAssignmentRequest())
	require.NoError(t, err)

	newcomer := &models.JWTClaims{UserID: "s9", Role: models.RoleStudent}
	progress, err := f.svc.JoinByCode(ctx, newcomer, dto.JoinAssignmentRequest{Code: "  join42 "})
	require.NoError(t, err)
	assert.Equal(t, created.Assignment.ID, progress.AssignmentID)
	assert.Equal(t, 0, progress.AttemptsUsed)
	assert.True(t, f.classes.members[assignClass]["s9"])

	again, err := f.svc.JoinByCode(ctx, newcomer, dto.JoinAssignmentRequest{Code: "JOIN42"})
	require.NoError(t, err)
	assert.Equal(t, progress.AssignmentID, again.AssignmentID)
	assert.Len(t, f.assignments.progressFor(created.Assignment.ID), 3)

	_, err = f.svc.JoinByCode(ctx, newcomer, dto.JoinAssignmentRequest{Code: "NOPE99"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.JoinByCode(ctx, assignOwner, dto.JoinAssignmentRequest{Code: "JOIN42"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	listed, _, err := f.svc.ListAssignments(ctx, newcomer, dto.AssignmentListQuery{})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestAssignmentServiceDeactivate(t *testing.T) {
	f := newAssignmentFixture("SHUT22")
	ctx := context.Background()
	created, err := f.svc.CreateAssignment(ctx, assignOwner, validAssignmentRequest())
	require.NoError(t, err)

	require.NoError(t, f.svc.Deactivate(ctx, assignOwner, created.Assignment.ID))
	err = f.svc.Deactivate(ctx, assignOwner, created.Assignment.ID)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	_, err = f.svc.JoinByCode(ctx, &models.JWTClaims{UserID: "s9", Role: models.RoleStudent}, dto.JoinAssignmentRequest{Code: "SHUT22"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	listed, _, err := f.svc.ListAssignments(ctx, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, dto.AssignmentListQuery{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestGenerateJoinCodeAlphabet(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := generateJoinCode()
		require.NoError(t, err)
		require.Len(t, code, joinCodeLength)
		for _, r := range code {
			assert.Contains(t, joinCodeAlphabet, string(r))
		}
	}
}

func TestAssignmentServiceGetAssignmentScope(t *testing.T) {
	f := newAssignmentFixture("GET234")
	ctx := context.Background()

	created, err := f.svc.CreateAssignment(ctx, assignOwner, validAssignmentRequest())
	require.NoError(t, err)
	id := created.Assignment.ID

	got, err := f.svc.GetAssignment(ctx, assignOwner, id)
	require.NoError(t, err)
	assert.Equal(t, "Read the fox", got.Title)

	_, err = f.svc.GetAssignment(ctx, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}, id)
	require.NoError(t, err)

	_, err = f.svc.GetAssignment(ctx, &models.JWTClaims{UserID: "t-other", Role: models.RoleTeacher}, id)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	got, err = f.svc.GetAssignment(ctx, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	// s3 left the roster before the story was issued.
	_, err = f.svc.GetAssignment(ctx, &models.JWTClaims{UserID: "s3", Role: models.RoleStudent}, id)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.GetAssignment(ctx, nil, id)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
