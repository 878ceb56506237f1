package service

import (
	"context"

	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
)

type analyticsReader interface {
	ScopeStudents(ctx context.Context, teacherID string) ([]models.StudentRef, error)
	TeacherHasStudent(ctx context.Context, teacherID, studentID string) (bool, error)
	Histories(ctx context.Context, students []models.StudentRef, scope models.HistoryScope) (map[string]*models.StudentHistory, error)
}

// scopedHistories loads the histories of every student the principal may see, in roster order.
// A teacher only sees activity from their own classes, even for students shared with another teacher.
func scopedHistories(ctx context.Context, analytics analyticsReader, principal *models.JWTClaims, classID string) ([]models.StudentRef, []*models.StudentHistory, error) {
	teacherID, err := staffScope(principal)
	if err != nil {
		return nil, nil, err
	}
	students, err := analytics.ScopeStudents(ctx, teacherID)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to resolve students in scope")
	}
	histories, err := analytics.Histories(ctx, students, models.HistoryScope{ClassID: classID, TeacherID: teacherID})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to load student histories")
	}
	return students, ordered(students, histories), nil
}

func ordered(students []models.StudentRef, histories map[string]*models.StudentHistory) []*models.StudentHistory {
	out := make([]*models.StudentHistory, 0, len(students))
	for _, st := range students {
		if h, ok := histories[st.ID]; ok {
			out = append(out, h)
		}
	}
	return out
}

func studentIDs(students []models.StudentRef) []string {
	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	return ids
}
