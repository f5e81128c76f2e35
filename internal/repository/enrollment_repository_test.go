package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentRow(id string, classID interface{}, status models.StudentStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "nis", "full_name", "class_id", "status", "created_at", "updated_at"}).
		AddRow(id, "1001", "Jane Doe", classID, status, now, now)
}

func classRow(id, gradeID string, capacity, current int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "grade_id", "name", "capacity", "current_enrollment", "is_active", "created_at", "updated_at"}).
		AddRow(id, gradeID, "N1-A", capacity, current, true, now, now)
}

func expectLockStudent(mock sqlmock.Sqlmock, id string, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+studentColumns+" FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(rows)
}

func expectLockClass(mock sqlmock.Sqlmock, id string, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+classColumns+" FROM classes WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(rows)
}

func TestEnrollmentRepositoryAssign(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectLockStudent(mock, "stu-1", studentRow("stu-1", nil, models.StudentStatusActive))
	expectLockClass(mock, "class-1", classRow("class-1", "grade-1", 30, 10))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET class_id = $1, updated_at = $2 WHERE id = $3")).
		WithArgs("class-1", sqlmock.AnyArg(), "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET current_enrollment = current_enrollment + 1, updated_at = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), "class-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Assign(context.Background(), "stu-1", "class-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAssignFullClass(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectLockStudent(mock, "stu-1", studentRow("stu-1", nil, models.StudentStatusActive))
	expectLockClass(mock, "class-1", classRow("class-1", "grade-1", 30, 30))
	mock.ExpectRollback()

	err := repo.Assign(context.Background(), "stu-1", "class-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAssignAlreadyAssigned(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectLockStudent(mock, "stu-1", studentRow("stu-1", "class-9", models.StudentStatusActive))
	expectLockClass(mock, "class-1", classRow("class-1", "grade-1", 30, 10))
	mock.ExpectRollback()

	err := repo.Assign(context.Background(), "stu-1", "class-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyAssigned))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRemove(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectLockStudent(mock, "stu-1", studentRow("stu-1", "class-1", models.StudentStatusActive))
	expectLockClass(mock, "class-1", classRow("class-1", "grade-1", 30, 10))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET class_id = NULL, updated_at = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET current_enrollment = GREATEST(current_enrollment - 1, 0), updated_at = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), "class-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Remove(context.Background(), "stu-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryTransferLocksClassesInStableOrder(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	// Source id sorts after the target, so the target class locks first.
	mock.ExpectBegin()
	expectLockStudent(mock, "stu-1", studentRow("stu-1", "class-b", models.StudentStatusActive))
	expectLockClass(mock, "class-a", classRow("class-a", "grade-1", 30, 5))
	expectLockClass(mock, "class-b", classRow("class-b", "grade-1", 30, 20))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET class_id = $1, updated_at = $2 WHERE id = $3")).
		WithArgs("class-a", sqlmock.AnyArg(), "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET current_enrollment = GREATEST(current_enrollment - 1, 0), updated_at = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), "class-b").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET current_enrollment = current_enrollment + 1, updated_at = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), "class-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Transfer(context.Background(), "stu-1", "class-a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryTransferToSameClass(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectLockStudent(mock, "stu-1", studentRow("stu-1", "class-1", models.StudentStatusActive))
	mock.ExpectRollback()

	err := repo.Transfer(context.Background(), "stu-1", "class-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetTerminalStatusReleasesSeat(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectLockStudent(mock, "stu-1", studentRow("stu-1", "class-1", models.StudentStatusActive))
	expectLockClass(mock, "class-1", classRow("class-1", "grade-1", 30, 10))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET class_id = NULL, updated_at = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET current_enrollment = GREATEST(current_enrollment - 1, 0), updated_at = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), "class-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET status = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(models.StudentStatusGraduated, sqlmock.AnyArg(), "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetTerminalStatus(context.Background(), "stu-1", models.StudentStatusGraduated))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetTerminalStatusRejectsNonTerminal(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	err := repo.SetTerminalStatus(context.Background(), "stu-1", models.StudentStatusActive)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
