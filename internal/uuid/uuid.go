// Package uuid mints and validates the v4 record identifiers shared by
// receipts, customers, and queue items.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/models"
)

// Record identifiers are dashed UUID v4: version nibble 4, variant bits
// 8, 9, a, or b.
var v4Pattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New mints a fresh record identifier.
func New() models.UUID {
	return models.UUID(uuid.New().String())
}

// IsValid reports whether id is a well-formed record identifier.
func IsValid(id models.UUID) bool {
	return v4Pattern.MatchString(string(id))
}

// Validate returns an INVALID_INPUT error when id is not a well-formed
// record identifier, so malformed path parameters are rejected before
// they reach the database.
func Validate(id models.UUID) error {
	if !IsValid(id) {
		return errors.New(errors.ErrInvalid, fmt.Sprintf("malformed record id %q", id))
	}
	return nil
}
