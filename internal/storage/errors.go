package storage

import (
	"fmt"

	"sheetetl/internal/apperrors"
)

// WrapConflict marks err as a uniqueness violation so callers can match it
// with errors.Is(err, apperrors.ErrConflict). The driver error stays in the
// chain.
func WrapConflict(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrConflict, err)
}

// NotFound builds an apperrors.ErrNotFound error for a missing entity.
func NotFound(entity string, key any) error {
	return fmt.Errorf("%s %v: %w", entity, key, apperrors.ErrNotFound)
}
