package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

// Atomic commits an enrollment mutation and a bill write in a single
// transaction. If either side fails, both roll back; a student is never left
// enrolled without their bill or billed without their seat.
type Atomic struct {
	db *sqlx.DB
}

// NewAtomic constructs the facade.
func NewAtomic(db *sqlx.DB) *Atomic {
	return &Atomic{db: db}
}

// AssignAndBill places the student into the class and persists the computed
// bill draft together. A nil bill performs the assignment alone; callers pass
// nil when no tariffs are configured for the class.
func (a *Atomic) AssignAndBill(ctx context.Context, studentID, classID string, bill *models.Bill) (err error) {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign-and-bill tx: %w", err)
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

	if bill != nil {
		var duplicate bool
		if duplicate, err = existsForStudentTermTx(ctx, tx, bill.StudentID, bill.TermID); err != nil {
			return err
		}
		if duplicate {
			return appErrors.Clone(appErrors.ErrConflict, "student already has a bill for this term")
		}
		if err = insertBillTx(ctx, tx, bill); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit assign-and-bill tx: %w", err)
	}
	return nil
}

// TransferAndBill moves the student to the target class and persists the
// computed bill draft together. A nil bill performs the transfer alone, which
// is the common case since transfers within a term do not rebill.
func (a *Atomic) TransferAndBill(ctx context.Context, studentID, targetClassID string, bill *models.Bill) (err error) {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer-and-bill tx: %w", err)
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

	if bill != nil {
		var duplicate bool
		if duplicate, err = existsForStudentTermTx(ctx, tx, bill.StudentID, bill.TermID); err != nil {
			return err
		}
		if duplicate {
			return appErrors.Clone(appErrors.ErrConflict, "student already has a bill for this term")
		}
		if err = insertBillTx(ctx, tx, bill); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer-and-bill tx: %w", err)
	}
	return nil
}
