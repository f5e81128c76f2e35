package service

import (
	"errors"

	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

// wrapInternal passes typed domain errors through untouched and wraps
// everything else as internal. Repositories surface state violations as typed
// errors; those must keep their code and status on the way out.
func wrapInternal(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
