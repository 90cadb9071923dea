package model

import "errors"

// Error kinds returned across package boundaries. Match with errors.Is.
var (
	// ErrNotFound means a document or version does not exist (or belongs to another document)
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the request is valid but the current history cannot satisfy it
	ErrInvalidState = errors.New("invalid state")

	// ErrBackendFailure means the generative backend failed for the whole run
	ErrBackendFailure = errors.New("backend failure")

	// ErrDocumentUnreadable means text could not be fetched or extracted
	ErrDocumentUnreadable = errors.New("document unreadable")
)
