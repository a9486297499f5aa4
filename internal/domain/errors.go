package domain

import "github.com/cockroachdb/errors"

var (
	// ErrNotFound is returned by stores when a row does not exist or is not
	// visible to the requesting owner.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClaimed is returned when a (rule, scheduled_at) slot is
	// already owned by another run that has not failed.
	ErrAlreadyClaimed = errors.New("run slot already claimed")

	// ErrDuplicateNumber is returned when a document number is already used
	// for the owner and document type.
	ErrDuplicateNumber = errors.New("document number already in use")
)
