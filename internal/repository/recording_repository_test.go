package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readaloud-api/internal/models"
)

const progressLockSQL = "FROM student_assignments sa JOIN assignments a ON a.id = sa.assignment_id"

func newRecording(assignmentID *string) *models.Recording {
	return &models.Recording{
		StudentID:       "student-1",
		StoryID:         "story-1",
		AssignmentID:    assignmentID,
		StorageKey:      "recordings/abc.webm",
		MimeType:        "audio/webm",
		SizeBytes:       1024,
		DurationSeconds: 42,
	}
}

func TestCreateWithAttemptAdvancesProgress(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordingRepository(db)
	assignmentID := "assign-1"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(progressLockSQL)).
		WithArgs(assignmentID, "student-1").
		WillReturnRows(sqlmock.NewRows([]string{"attempts_used", "max_attempts"}).AddRow(1, 3))
	mock.ExpectExec("INSERT INTO recordings").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE student_assignments SET attempts_used = attempts_used + 1")).
		WithArgs(assignmentID, "student-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"attempts_used"}).AddRow(2))
	mock.ExpectCommit()

	persisted := false
	rec := newRecording(&assignmentID)
	grant, err := repo.CreateWithAttempt(context.Background(), rec, func(context.Context) error {
		persisted = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, persisted)
	assert.Equal(t, 2, grant.AttemptNumber)
	assert.Equal(t, 2, grant.AttemptsUsed)
	require.NotNil(t, grant.MaxAttempts)
	assert.Equal(t, 3, *grant.MaxAttempts)
	assert.Equal(t, 2, rec.AttemptNumber)
	assert.Equal(t, models.RecordingStatusPending, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithAttemptRejectsAtLimit(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordingRepository(db)
	assignmentID := "assign-1"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(progressLockSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"attempts_used", "max_attempts"}).AddRow(3, 3))
	mock.ExpectRollback()

	_, err := repo.CreateWithAttempt(context.Background(), newRecording(&assignmentID), func(context.Context) error {
		t.Fatal("payload must not be persisted past the limit")
		return nil
	})
	require.True(t, errors.Is(err, ErrAttemptLimitReached))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithAttemptRollsBackOnPersistFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordingRepository(db)
	assignmentID := "assign-1"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(progressLockSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"attempts_used", "max_attempts"}).AddRow(0, nil))
	mock.ExpectRollback()

	storageErr := errors.New("bucket unavailable")
	_, err := repo.CreateWithAttempt(context.Background(), newRecording(&assignmentID), func(context.Context) error {
		return storageErr
	})
	require.True(t, errors.Is(err, storageErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithAttemptFreePracticeUsesAdvisoryLock(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordingRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock")).
		WithArgs("student-1", "story-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM recordings")).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(4))
	mock.ExpectExec("INSERT INTO recordings").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	grant, err := repo.CreateWithAttempt(context.Background(), newRecording(nil), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 4, grant.AttemptNumber)
	assert.Nil(t, grant.MaxAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewOnlyTouchesPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'pending'")).
		WithArgs("rec-1", 4, 3, models.GradeGood, sqlmock.AnyArg(), "teacher-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.Review(context.Background(), "rec-1", models.ReviewInput{FluencyScore: 4, AccuracyScore: 3, Grade: models.GradeGood, ReviewerID: "teacher-1"})
	require.NoError(t, err)
	assert.False(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordingListTeacherScope(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("tc.teacher_id = $2")).
		WithArgs(models.RecordingStatusPending, "teacher-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM recordings r WHERE 1=1 AND r.status = $1")).
		WithArgs(models.RecordingStatusPending, "teacher-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	recs, total, err := repo.List(context.Background(), models.RecordingFilter{TeacherID: "teacher-1", Status: models.RecordingStatusPending})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
