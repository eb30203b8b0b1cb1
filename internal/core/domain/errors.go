package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
	ErrMissingCredential = errors.New("missing credential")

	ErrIndexNotFound     = errors.New("index not found")
	ErrIndexCorrupt      = errors.New("index corrupt")
	ErrIndexIncompatible = errors.New("index incompatible")
	ErrNoDocuments       = errors.New("no readable documents")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsRecoverableIndexError reports whether a failed index load should be
// answered with a rebuild rather than propagated.
func IsRecoverableIndexError(err error) bool {
	return IsKind(err, ErrIndexNotFound) || IsKind(err, ErrIndexCorrupt) || IsKind(err, ErrIndexIncompatible)
}
