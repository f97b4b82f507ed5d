// Package common defines sentinel errors shared by repositories and
// services. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Append-once columns refused an overwrite.
	ErrorImmutable = errors.New("immutable field already set")
)
