package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/finanza-bank/ledger-core/internal/apperr"
	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
	"github.com/finanza-bank/ledger-core/internal/validate"
)

// NewReferenceNumber returns a unique reference such as "DEP-1F0C9A2B7D4E".
func NewReferenceNumber(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + id[:16]
}

func validationError(err error) error {
	var errs validate.Errs
	if errors.As(err, &errs) {
		return apperr.New(apperr.CodeValidation, "invalid request").WithDetails(errs)
	}
	return apperr.Wrap(apperr.CodeValidation, err, "invalid request")
}

// internal turns untyped failures into a retryable INTERNAL_ERROR. Every
// caller runs inside a unit of work that has already rolled back.
func internal(err error, op string) error {
	if err == nil {
		return nil
	}
	if apperr.As(err) != nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeDependency, err, op+" interrupted; no ledger changes were made")
	}
	return apperr.Wrap(apperr.CodeInternal, err, op+" failed; no ledger changes were made, retry")
}

func requireAdmin(ctx context.Context, users repository.Users, adminID int64) (models.User, error) {
	admin, err := users.GetByID(ctx, adminID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.User{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("admin user %d not found", adminID))
	}
	if err != nil {
		return models.User{}, err
	}
	if !admin.IsAdmin {
		return models.User{}, apperr.New(apperr.CodeForbidden, fmt.Sprintf("user %d is not an administrator", adminID))
	}
	return admin, nil
}

func duplicateReference(ref string) error {
	return apperr.New(apperr.CodeConflict, fmt.Sprintf("reference number %s already used", ref))
}

func ptr[T any](v T) *T { return &v }

// accountRef is nil for an unresolved (zero) account id.
func accountRef(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
