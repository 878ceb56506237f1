package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
)

const (
	classTeacher = "33333333-3333-3333-3333-333333333333"
	classStudent = "44444444-4444-4444-4444-444444444444"
)

type memClasses struct {
	classes map[string]*models.Class
	members map[string]map[string]bool
	seq     int
}

func newMemClasses() *memClasses {
	return &memClasses{classes: map[string]*models.Class{}, members: map[string]map[string]bool{}}
}

func (m *memClasses) Create(ctx context.Context, class *models.Class) error {
	m.seq++
	class.ID = fmt.Sprintf("class-%d", m.seq)
	copied := *class
	m.classes[class.ID] = &copied
	return nil
}

func (m *memClasses) FindByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := m.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *class
	return &copied, nil
}

func (m *memClasses) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	var out []models.Class
	for _, class := range m.classes {
		if filter.TeacherID == "" || class.TeacherID == filter.TeacherID {
			out = append(out, *class)
		}
	}
	return out, len(out), nil
}

func (m *memClasses) AddMember(ctx context.Context, classID, studentID string) error {
	if m.members[classID] == nil {
		m.members[classID] = map[string]bool{}
	}
	m.members[classID][studentID] = true
	return nil
}

func (m *memClasses) RemoveMember(ctx context.Context, classID, studentID string) (bool, error) {
	if !m.members[classID][studentID] {
		return false, nil
	}
	m.members[classID][studentID] = false
	return true, nil
}

func (m *memClasses) ListMembers(ctx context.Context, classID string) ([]models.ClassMember, error) {
	var out []models.ClassMember
	for id, active := range m.members[classID] {
		if active {
			out = append(out, models.ClassMember{ClassID: classID, StudentID: id, Active: true})
		}
	}
	return out, nil
}

func (u stubUsers) SearchStudents(ctx context.Context, term string, limit int) ([]models.User, error) {
	term = strings.ToLower(term)
	var out []models.User
	for _, user := range u {
		if user.Role != models.RoleStudent || !user.Active {
			continue
		}
		if strings.Contains(strings.ToLower(user.FullName), term) || strings.Contains(strings.ToLower(user.Email), term) {
			out = append(out, *user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newClassFixture() (*ClassService, *memClasses) {
	classes := newMemClasses()
	users := stubUsers{
		classTeacher: {ID: classTeacher, Role: models.RoleTeacher, Active: true},
		classStudent: {ID: classStudent, Role: models.RoleStudent, Active: true},
	}
	return NewClassService(classes, users, nil, nil), classes
}

func validClassRequest() dto.CreateClassRequest {
	return dto.CreateClassRequest{Name: "Robins", GradeLevel: "2", SchoolYear: "2025/2026"}
}

func TestClassServiceCreateClass(t *testing.T) {
	svc, _ := newClassFixture()
	ctx := context.Background()
	teacher := &models.JWTClaims{UserID: classTeacher, Role: models.RoleTeacher}

	class, err := svc.CreateClass(ctx, teacher, validClassRequest())
	require.NoError(t, err)
	assert.Equal(t, classTeacher, class.TeacherID)
	assert.NotEmpty(t, class.ID)

	admin := &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}
	_, err = svc.CreateClass(ctx, admin, validClassRequest())
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details, "teacher_id")

	req := validClassRequest()
	req.TeacherID = classStudent
	_, err = svc.CreateClass(ctx, admin, req)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	req.TeacherID = classTeacher
	class, err = svc.CreateClass(ctx, admin, req)
	require.NoError(t, err)
	assert.Equal(t, classTeacher, class.TeacherID)

	bad := validClassRequest()
	bad.GradeLevel = "9"
	_, err = svc.CreateClass(ctx, teacher, bad)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateClass(ctx, &models.JWTClaims{UserID: classStudent, Role: models.RoleStudent}, validClassRequest())
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestClassServiceRosterScope(t *testing.T) {
	svc, classes := newClassFixture()
	ctx := context.Background()
	owner := &models.JWTClaims{UserID: classTeacher, Role: models.RoleTeacher}
	other := &models.JWTClaims{UserID: "t-other", Role: models.RoleTeacher}

	class, err := svc.CreateClass(ctx, owner, validClassRequest())
	require.NoError(t, err)

	require.NoError(t, svc.AddStudent(ctx, owner, class.ID, dto.AddStudentRequest{StudentID: classStudent}))
	assert.True(t, classes.members[class.ID][classStudent])

	err = svc.AddStudent(ctx, owner, class.ID, dto.AddStudentRequest{StudentID: classTeacher})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	err = svc.AddStudent(ctx, other, class.ID, dto.AddStudentRequest{StudentID: classStudent})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	members, err := svc.ListMembers(ctx, owner, class.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	require.NoError(t, svc.RemoveStudent(ctx, owner, class.ID, classStudent))
	err = svc.RemoveStudent(ctx, owner, class.ID, classStudent)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	list, page, err := svc.ListClasses(ctx, other, dto.ClassListQuery{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, page.TotalCount)

	list, _, err = svc.ListClasses(ctx, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}, dto.ClassListQuery{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClassServiceSearchStudents(t *testing.T) {
	users := stubUsers{
		classTeacher: {ID: classTeacher, FullName: "Ana Teacher", Role: models.RoleTeacher, Active: true},
		"gone":       {ID: "gone", FullName: "Ana Gone", Role: models.RoleStudent, Active: false},
	}
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("s-%02d", i)
		users[id] = &models.User{ID: id, FullName: fmt.Sprintf("Ana Student %02d", i), Email: id + "@example.com", Role: models.RoleStudent, Active: true}
	}
	svc := NewClassService(newMemClasses(), users, nil, nil)
	ctx := context.Background()
	teacher := &models.JWTClaims{UserID: classTeacher, Role: models.RoleTeacher}

	hits, err := svc.SearchStudents(ctx, teacher, dto.StudentSearchQuery{Q: "  ana "})
	require.NoError(t, err)
	assert.Len(t, hits, 10)
	assert.Equal(t, "Ana Student 00", hits[0].FullName)
	for _, hit := range hits {
		assert.NotEqual(t, classTeacher, hit.ID)
		assert.NotEqual(t, "gone", hit.ID)
	}

	hits, err = svc.SearchStudents(ctx, teacher, dto.StudentSearchQuery{Q: "S-03@EXAMPLE"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "s-03", hits[0].ID)

	_, err = svc.SearchStudents(ctx, teacher, dto.StudentSearchQuery{Q: " a "})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details, "q")

	_, err = svc.SearchStudents(ctx, &models.JWTClaims{UserID: "s-01", Role: models.RoleStudent}, dto.StudentSearchQuery{Q: "ana"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestClassServiceGetClassScope(t *testing.T) {
	svc, _ := newClassFixture()
	ctx := context.Background()
	owner := &models.JWTClaims{UserID: classTeacher, Role: models.RoleTeacher}

	class, err := svc.CreateClass(ctx, owner, validClassRequest())
	require.NoError(t, err)

	got, err := svc.GetClass(ctx, owner, class.ID)
	require.NoError(t, err)
	assert.Equal(t, "Robins", got.Name)

	_, err = svc.GetClass(ctx, &models.JWTClaims{UserID: "t-other", Role: models.RoleTeacher}, class.ID)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.GetClass(ctx, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}, class.ID)
	require.NoError(t, err)

	_, err = svc.GetClass(ctx, owner, "class-404")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
