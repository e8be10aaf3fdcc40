package service

import (
	"errors"
	"fmt"

	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

var (
	ErrSpotNotFound    = fmt.Errorf("parking spot not found: %w", repository.ErrNotFound)
	ErrSessionNotFound = fmt.Errorf("parking session not found: %w", repository.ErrNotFound)
	ErrLotNotFound     = fmt.Errorf("parking lot not found: %w", repository.ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user not found: %w", repository.ErrNotFound)
)

var (
	ErrUnknownStatus        = errors.New("unknown spot status")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrProtectedState       = errors.New("spot is in a protected state")
	ErrSpotUnavailable      = errors.New("spot is not available")
	ErrSessionAlreadyActive = errors.New("user already has an active session")
	ErrSessionAlreadyEnded  = errors.New("session already ended")
	ErrSpotInUse            = errors.New("spot has an active session")
	ErrForbidden            = errors.New("forbidden")
	ErrConflict             = errors.New("conflict")
	ErrValidation           = errors.New("validation failed")
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserAlreadyExists  = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrTokenInvalid       = errors.New("token is invalid or expired")
)

// translateRepoError maps persistence sentinels that callers should not see directly.
func translateRepoError(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return notFound
	case errors.Is(err, repository.ErrDuplicateEntry):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
