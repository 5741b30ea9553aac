package domain

import "errors"

var (
	ErrInvalidEntityType = errors.New("invalid_entity_type")
	ErrInvalidStatusTag  = errors.New("invalid_status_tag")
	// ErrTagNotFound on a status tag means tenant provisioning is incomplete.
	ErrTagNotFound = errors.New("tag_not_found")
	ErrInvalidTag  = errors.New("invalid_tag")

	ErrEntityNotFound = errors.New("entity_not_found")
)
