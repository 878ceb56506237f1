package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"math/big"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/internal/repository"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/security"
)

type assignmentRepository interface {
	Create(ctx context.Context, assignment *models.Assignment) (int, error)
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	FindByJoinCode(ctx context.Context, code string) (*models.Assignment, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error)
	Deactivate(ctx context.Context, id string) (bool, error)
	FindProgress(ctx context.Context, assignmentID, studentID string) (*models.StudentAssignment, error)
	ListProgress(ctx context.Context, assignmentID string) ([]models.StudentAssignment, error)
}

type classAccess interface {
	ClassForStaff(ctx context.Context, principal *models.JWTClaims, classID string) (*models.Class, error)
}

type memberAdder interface {
	AddMember(ctx context.Context, classID, studentID string) error
}

type storyFinder interface {
	FindByID(ctx context.Context, id string) (*models.Story, error)
}

const (
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	joinCodeLength   = 6
	joinCodeRetries  = 5
)

// AssignmentService issues stories to classes and tracks per-student progress.
type AssignmentService struct {
	assignments assignmentRepository
	classes     classAccess
	members     memberAdder
	stories     storyFinder
	validator   *validator.Validate
	logger      *zap.Logger
	newCode     func() (string, error)
}

// NewAssignmentService constructs the tracker.
func NewAssignmentService(assignments assignmentRepository, classes classAccess, members memberAdder, stories storyFinder, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &AssignmentService{
		assignments: assignments,
		classes:     classes,
		members:     members,
		stories:     stories,
		validator:   validate,
		logger:      logger,
		newCode:     generateJoinCode,
	}
}

// CreateAssignment issues a story to every active member of the class in one transaction.
func (s *AssignmentService) CreateAssignment(ctx context.Context, principal *models.JWTClaims, req dto.CreateAssignmentRequest) (*dto.AssignmentCreatedResponse, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	req.Title = security.SanitizeText(req.Title)
	req.Description = security.SanitizeText(req.Description)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid assignment payload")
	}

	class, err := s.classes.ClassForStaff(ctx, principal, req.ClassID)
	if err != nil {
		return nil, err
	}
	story, err := s.stories.FindByID(ctx, req.StoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "story not found")
		}
		return nil, appErrors.Internal(err, "failed to load story")
	}
	if !story.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "story not found")
	}

	assignment := &models.Assignment{
		ClassID:     class.ID,
		StoryID:     story.ID,
		TeacherID:   class.TeacherID,
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		MaxAttempts: req.MaxAttempts,
		Active:      true,
	}
	var issued int
	for attempt := 0; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, appErrors.Internal(err, "failed to generate join code")
		}
		assignment.ID = ""
		assignment.JoinCode = code
		issued, err = s.assignments.Create(ctx, assignment)
		if err == nil {
			break
		}
		if repository.IsUniqueViolation(err) && attempt < joinCodeRetries {
			continue
		}
		return nil, appErrors.Internal(err, "failed to create assignment")
	}
	assignment.StoryTitle = story.Title
	assignment.ClassName = class.Name

	s.logger.Info("assignment issued", zap.String("assignment_id", assignment.ID), zap.String("class_id", class.ID), zap.Int("students", issued))
	return &dto.AssignmentCreatedResponse{Assignment: *assignment, Issued: issued}, nil
}

// ListAssignments returns the caller's assignments: issued ones for students, owned ones for teachers, all for admins.
func (s *AssignmentService) ListAssignments(ctx context.Context, principal *models.JWTClaims, query dto.AssignmentListQuery) ([]models.Assignment, *models.Pagination, error) {
	if principal == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	page, size := models.NormalizePage(query.Page, query.PageSize)
	filter := models.AssignmentFilter{ClassID: query.ClassID, ActiveOnly: query.ActiveOnly, Page: page, PageSize: size}
	switch principal.Role {
	case models.RoleStudent:
		filter.StudentID = principal.UserID
		filter.ActiveOnly = true
	case models.RoleTeacher:
		filter.TeacherID = principal.UserID
	}
	items, total, err := s.assignments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list assignments")
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetAssignment returns one assignment. Staff are bounded by ownership, students
// by having been issued it; anything else reads as NotFound.
func (s *AssignmentService) GetAssignment(ctx context.Context, principal *models.JWTClaims, assignmentID string) (*models.Assignment, error) {
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if principal.IsStaff() {
		return s.assignmentForStaff(ctx, principal, assignmentID)
	}
	if _, err := s.assignments.FindProgress(ctx, assignmentID, principal.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load progress")
	}
	assignment, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load assignment")
	}
	return assignment, nil
}

// GetProgressOverview returns roster progress and completion for one assignment.
func (s *AssignmentService) GetProgressOverview(ctx context.Context, principal *models.JWTClaims, assignmentID string) (*models.ProgressOverview, error) {
	assignment, err := s.assignmentForStaff(ctx, principal, assignmentID)
	if err != nil {
		return nil, err
	}
	rows, err := s.assignments.ListProgress(ctx, assignment.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load progress")
	}
	completed := 0
	for _, row := range rows {
		if row.Completed() {
			completed++
		}
	}
	return &models.ProgressOverview{
		Assignment:     *assignment,
		Issued:         len(rows),
		Completed:      completed,
		CompletionRate: CompletionRate(completed, len(rows)),
		Students:       rows,
	}, nil
}

// JoinByCode enrolls the calling student in the assignment's class and returns their progress row.
func (s *AssignmentService) JoinByCode(ctx context.Context, principal *models.JWTClaims, req dto.JoinAssignmentRequest) (*models.StudentAssignment, error) {
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if principal.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can join assignments")
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid join code")
	}

	assignment, err := s.assignments.FindByJoinCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load assignment")
	}
	if err := s.members.AddMember(ctx, assignment.ClassID, principal.UserID); err != nil {
		return nil, appErrors.Internal(err, "failed to join class")
	}
	progress, err := s.assignments.FindProgress(ctx, assignment.ID, principal.UserID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load progress")
	}
	return progress, nil
}

// Deactivate closes an assignment to new submissions.
func (s *AssignmentService) Deactivate(ctx context.Context, principal *models.JWTClaims, assignmentID string) error {
	assignment, err := s.assignmentForStaff(ctx, principal, assignmentID)
	if err != nil {
		return err
	}
	changed, err := s.assignments.Deactivate(ctx, assignment.ID)
	if err != nil {
		return appErrors.Internal(err, "failed to deactivate assignment")
	}
	if !changed {
		return appErrors.Clone(appErrors.ErrConflict, "assignment already inactive")
	}
	return nil
}

func (s *AssignmentService) assignmentForStaff(ctx context.Context, principal *models.JWTClaims, id string) (*models.Assignment, error) {
	teacherID, err := staffScope(principal)
	if err != nil {
		return nil, err
	}
	assignment, err := s.assignments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load assignment")
	}
	if teacherID != "" && assignment.TeacherID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
	}
	return assignment, nil
}

func generateJoinCode() (string, error) {
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	var b strings.Builder
	for i := 0; i < joinCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(joinCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
