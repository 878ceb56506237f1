package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/security"
)

type classRepository interface {
	Create(ctx context.Context, class *models.Class) error
	FindByID(ctx context.Context, id string) (*models.Class, error)
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
	AddMember(ctx context.Context, classID, studentID string) error
	RemoveMember(ctx context.Context, classID, studentID string) (bool, error)
	ListMembers(ctx context.Context, classID string) ([]models.ClassMember, error)
}

type userFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type studentDirectory interface {
	userFinder
	SearchStudents(ctx context.Context, term string, limit int) ([]models.User, error)
}

const (
	studentSearchMinLength = 2
	studentSearchLimit     = 10
)

// ClassService manages teacher rosters.
type ClassService struct {
	classes   classRepository
	users     studentDirectory
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs the roster service.
func NewClassService(classes classRepository, users studentDirectory, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &ClassService{classes: classes, users: users, validator: validate, logger: logger}
}

// CreateClass creates a roster owned by the calling teacher, or by req.TeacherID when an admin calls.
func (s *ClassService) CreateClass(ctx context.Context, principal *models.JWTClaims, req dto.CreateClassRequest) (*models.Class, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	req.Name = security.SanitizeText(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid class payload")
	}

	teacherID := principal.UserID
	if principal.Role == models.RoleAdmin {
		if req.TeacherID == "" {
			return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid class payload", map[string]string{"teacher_id": "is required"})
		}
		if _, err := s.requireUser(ctx, req.TeacherID, models.RoleTeacher); err != nil {
			return nil, err
		}
		teacherID = req.TeacherID
	}

	class := &models.Class{Name: req.Name, TeacherID: teacherID, GradeLevel: req.GradeLevel, SchoolYear: req.SchoolYear}
	if err := s.classes.Create(ctx, class); err != nil {
		return nil, appErrors.Internal(err, "failed to create class")
	}
	return class, nil
}

// ListClasses lists the caller's classes; admins see every class.
func (s *ClassService) ListClasses(ctx context.Context, principal *models.JWTClaims, query dto.ClassListQuery) ([]models.Class, *models.Pagination, error) {
	teacherID, err := staffScope(principal)
	if err != nil {
		return nil, nil, err
	}
	page, size := models.NormalizePage(query.Page, query.PageSize)
	classes, total, err := s.classes.List(ctx, models.ClassFilter{TeacherID: teacherID, Search: query.Search, Page: page, PageSize: size})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list classes")
	}
	return classes, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetClass returns one class the caller manages.
func (s *ClassService) GetClass(ctx context.Context, principal *models.JWTClaims, classID string) (*models.Class, error) {
	return s.ClassForStaff(ctx, principal, classID)
}

// SearchStudents finds enrollable students by name or email.
func (s *ClassService) SearchStudents(ctx context.Context, principal *models.JWTClaims, query dto.StudentSearchQuery) ([]dto.StudentSummary, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	term := strings.TrimSpace(query.Q)
	if len([]rune(term)) < studentSearchMinLength {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid search", map[string]string{"q": "must be at least 2 characters"})
	}
	users, err := s.users.SearchStudents(ctx, term, studentSearchLimit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to search students")
	}
	out := make([]dto.StudentSummary, 0, len(users))
	for _, u := range users {
		out = append(out, dto.StudentSummary{ID: u.ID, FullName: u.FullName, Email: u.Email})
	}
	return out, nil
}

// AddStudent enrolls a student. Active assignments of the class are issued to them.
func (s *ClassService) AddStudent(ctx context.Context, principal *models.JWTClaims, classID string, req dto.AddStudentRequest) error {
	class, err := s.ClassForStaff(ctx, principal, classID)
	if err != nil {
		return err
	}
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid student payload")
	}
	if _, err := s.requireUser(ctx, req.StudentID, models.RoleStudent); err != nil {
		return err
	}
	if err := s.classes.AddMember(ctx, class.ID, req.StudentID); err != nil {
		return appErrors.Internal(err, "failed to add student")
	}
	s.logger.Info("student enrolled", zap.String("class_id", class.ID), zap.String("student_id", req.StudentID))
	return nil
}

// RemoveStudent deactivates a roster entry.
func (s *ClassService) RemoveStudent(ctx context.Context, principal *models.JWTClaims, classID, studentID string) error {
	class, err := s.ClassForStaff(ctx, principal, classID)
	if err != nil {
		return err
	}
	removed, err := s.classes.RemoveMember(ctx, class.ID, studentID)
	if err != nil {
		return appErrors.Internal(err, "failed to remove student")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "student not in class")
	}
	return nil
}

// ListMembers returns the active roster.
func (s *ClassService) ListMembers(ctx context.Context, principal *models.JWTClaims, classID string) ([]models.ClassMember, error) {
	class, err := s.ClassForStaff(ctx, principal, classID)
	if err != nil {
		return nil, err
	}
	members, err := s.classes.ListMembers(ctx, class.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list class members")
	}
	return members, nil
}

// ClassForStaff loads a class the principal may manage. A class of another teacher is NotFound.
func (s *ClassService) ClassForStaff(ctx context.Context, principal *models.JWTClaims, classID string) (*models.Class, error) {
	teacherID, err := staffScope(principal)
	if err != nil {
		return nil, err
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

func (s *ClassService) requireUser(ctx context.Context, id string, role models.UserRole) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	if !user.Active || user.Role != role {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return user, nil
}
