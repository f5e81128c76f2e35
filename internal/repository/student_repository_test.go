package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

func TestStudentRepositoryListUnassigned(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "nis", "full_name", "class_id", "status", "created_at", "updated_at", "class_name", "grade_name"}).
		AddRow("stu-1", "1001", "Jane Doe", nil, models.StudentStatusActive, now, now, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("s.class_id IS NULL") + ".*" + regexp.QuoteMeta("ORDER BY s.full_name ASC LIMIT 20 OFFSET 0")).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{Unassigned: true})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, 1, total)
	assert.Nil(t, students[0].ClassName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListSearch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "nis", "full_name", "class_id", "status", "created_at", "updated_at", "class_name", "grade_name"}).
		AddRow("stu-1", "1001", "Jane Doe", "class-1", models.StudentStatusActive, now, now, "N1-A", "N1")
	mock.ExpectQuery(regexp.QuoteMeta("(s.full_name ILIKE $1 OR s.nis ILIKE $1)")).
		WithArgs("%jane%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("%jane%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, _, err := repo.List(context.Background(), models.StudentFilter{Search: "jane"})
	require.NoError(t, err)
	require.Len(t, students, 1)
	require.NotNil(t, students[0].ClassName)
	assert.Equal(t, "N1-A", *students[0].ClassName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExistsByNIS(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE nis = $1 AND id <> $2 LIMIT 1")).
		WithArgs("1001", "stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

	taken, err := repo.ExistsByNIS(context.Background(), "1001", "stu-1")
	require.NoError(t, err)
	assert.True(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExistsByNISNoMatch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE nis = $1 LIMIT 1")).
		WithArgs("9999").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}))

	taken, err := repo.ExistsByNIS(context.Background(), "9999", "")
	require.NoError(t, err)
	assert.False(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateStartsUnassigned(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs(sqlmock.AnyArg(), "1001", "Jane Doe", nil, models.StudentStatusActive, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	classID := "class-1"
	student := &models.Student{NIS: "1001", FullName: "Jane Doe", ClassID: &classID}
	require.NoError(t, repo.Create(context.Background(), student))
	assert.NotEmpty(t, student.ID)
	assert.Equal(t, models.StudentStatusActive, student.Status)
	assert.Nil(t, student.ClassID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDeleteWithBillingHistory(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM bills WHERE student_id = $1")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	err := repo.Delete(context.Background(), "stu-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM bills WHERE student_id = $1")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1")).
		WithArgs("stu-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "stu-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListActiveByClass(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+studentColumns+" FROM students WHERE class_id = $1 AND status = $2 ORDER BY full_name")).
		WithArgs("class-1", models.StudentStatusActive).
		WillReturnRows(studentRow("stu-1", "class-1", models.StudentStatusActive))

	students, err := repo.ListActiveByClass(context.Background(), "class-1")
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "stu-1", students[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
