package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

// EnrollmentRepository owns every mutation that touches the student/class
// relationship. All writes lock the affected class rows and the student row
// FOR UPDATE and move the seat counter in the same transaction, so the
// counter can never drift from the membership under concurrency.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// lockStudent loads a student row FOR UPDATE.
func lockStudent(ctx context.Context, tx *sqlx.Tx, studentID string) (*models.Student, error) {
	var student models.Student
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1 FOR UPDATE`, studentColumns)
	if err := tx.GetContext(ctx, &student, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, fmt.Errorf("lock student: %w", err)
	}
	return &student, nil
}

// lockClass loads a class row FOR UPDATE.
func lockClass(ctx context.Context, tx *sqlx.Tx, classID string) (*models.Class, error) {
	var class models.Class
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE id = $1 FOR UPDATE`, classColumns)
	if err := tx.GetContext(ctx, &class, query, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, fmt.Errorf("lock class: %w", err)
	}
	return &class, nil
}

// assignTx places an unassigned active student into a class. Both rows must
// already be locked by the caller's transaction.
func assignTx(ctx context.Context, tx *sqlx.Tx, student *models.Student, class *models.Class) error {
	if student.Status != models.StudentStatusActive {
		return appErrors.Clone(appErrors.ErrInvalidState, "only active students can be assigned to a class")
	}
	if student.Assigned() {
		return appErrors.Clone(appErrors.ErrAlreadyAssigned, "student is already assigned to a class")
	}
	if !class.IsActive {
		return appErrors.Clone(appErrors.ErrInvalidState, "class is not active")
	}
	if !class.HasSpace() {
		return appErrors.Clone(appErrors.ErrCapacityExceeded,
			fmt.Sprintf("class %s is full (%d/%d)", class.Name, class.CurrentEnrollment, class.Capacity))
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE students SET class_id = $1, updated_at = $2 WHERE id = $3`,
		class.ID, now, student.ID); err != nil {
		return fmt.Errorf("assign student: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE classes SET current_enrollment = current_enrollment + 1, updated_at = $1 WHERE id = $2`,
		now, class.ID); err != nil {
		return fmt.Errorf("increment class enrollment: %w", err)
	}
	student.ClassID = &class.ID
	class.CurrentEnrollment++
	return nil
}

// removeTx detaches a student from their current class and decrements the
// seat counter, clamping at zero.
func removeTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	if !student.Assigned() {
		return appErrors.Clone(appErrors.ErrInvalidState, "student is not assigned to any class")
	}
	classID := *student.ClassID
	if _, err := lockClass(ctx, tx, classID); err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE students SET class_id = NULL, updated_at = $1 WHERE id = $2`,
		now, student.ID); err != nil {
		return fmt.Errorf("remove student: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE classes SET current_enrollment = GREATEST(current_enrollment - 1, 0), updated_at = $1 WHERE id = $2`,
		now, classID); err != nil {
		return fmt.Errorf("decrement class enrollment: %w", err)
	}
	student.ClassID = nil
	return nil
}

// transferTx moves a student between two classes, decrementing the source and
// incrementing the target in one pass. Classes are locked in a stable order
// keyed by id to avoid deadlocks between concurrent opposite transfers.
func transferTx(ctx context.Context, tx *sqlx.Tx, student *models.Student, targetID string) (*models.Class, error) {
	if student.Status != models.StudentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only active students can be transferred")
	}
	if !student.Assigned() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "student is not assigned to any class")
	}
	sourceID := *student.ClassID
	if sourceID == targetID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is already in the target class")
	}

	var source, target *models.Class
	var err error
	if sourceID < targetID {
		if source, err = lockClass(ctx, tx, sourceID); err != nil {
			return nil, err
		}
		if target, err = lockClass(ctx, tx, targetID); err != nil {
			return nil, err
		}
	} else {
		if target, err = lockClass(ctx, tx, targetID); err != nil {
			return nil, err
		}
		if source, err = lockClass(ctx, tx, sourceID); err != nil {
			return nil, err
		}
	}

	if !target.IsActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "target class is not active")
	}
	if !target.HasSpace() {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded,
			fmt.Sprintf("class %s is full (%d/%d)", target.Name, target.CurrentEnrollment, target.Capacity))
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE students SET class_id = $1, updated_at = $2 WHERE id = $3`,
		targetID, now, student.ID); err != nil {
		return nil, fmt.Errorf("transfer student: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE classes SET current_enrollment = GREATEST(current_enrollment - 1, 0), updated_at = $1 WHERE id = $2`,
		now, source.ID); err != nil {
		return nil, fmt.Errorf("decrement source class: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE classes SET current_enrollment = current_enrollment + 1, updated_at = $1 WHERE id = $2`,
		now, target.ID); err != nil {
		return nil, fmt.Errorf("increment target class: %w", err)
	}
	student.ClassID = &target.ID
	target.CurrentEnrollment++
	return target, nil
}

// terminalTx moves a student into a terminal status, releasing their seat if
// assigned. Terminal statuses never transition again.
func terminalTx(ctx context.Context, tx *sqlx.Tx, student *models.Student, status models.StudentStatus) error {
	if student.Status.Terminal() {
		return appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("student is already %s", student.Status))
	}
	if student.Assigned() {
		if err := removeTx(ctx, tx, student); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE students SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), student.ID); err != nil {
		return fmt.Errorf("set student status: %w", err)
	}
	student.Status = status
	return nil
}

// Assign places a student into a class.
func (r *EnrollmentRepository) Assign(ctx context.Context, studentID, classID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	student, err := lockStudent(ctx, tx, studentID)
	if err != nil {
		return err
	}
	class, err := lockClass(ctx, tx, classID)
	if err != nil {
		return err
	}
	if err = assignTx(ctx, tx, student, class); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit assign tx: %w", err)
	}
	return nil
}

// Remove detaches a student from their class.
func (r *EnrollmentRepository) Remove(ctx context.Context, studentID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	student, err := lockStudent(ctx, tx, studentID)
	if err != nil {
		return err
	}
	if err = removeTx(ctx, tx, student); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit remove tx: %w", err)
	}
	return nil
}

// Transfer moves a student from their current class to the target class.
func (r *EnrollmentRepository) Transfer(ctx context.Context, studentID, targetClassID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	student, err := lockStudent(ctx, tx, studentID)
	if err != nil {
		return err
	}
	if _, err = transferTx(ctx, tx, student, targetClassID); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer tx: %w", err)
	}
	return nil
}

// SetTerminalStatus graduates, deactivates, or marks a student transferred
// out, releasing their seat in the same transaction.
func (r *EnrollmentRepository) SetTerminalStatus(ctx context.Context, studentID string, status models.StudentStatus) (err error) {
	if !status.Terminal() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is not a terminal status", status))
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	student, err := lockStudent(ctx, tx, studentID)
	if err != nil {
		return err
	}
	if err = terminalTx(ctx, tx, student, status); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit status tx: %w", err)
	}
	return nil
}
