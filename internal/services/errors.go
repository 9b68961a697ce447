// Package services defines the business logic of the publish agent: form and
// fingerprint resolution, notification fan-out, and the conversation
// pipeline that ties classification, lookup and registration together.
//
// This file centralizes service-level error values so that they can be
// returned consistently by service methods and mapped to HTTP status codes
// or user-facing replies by callers.
package services

import "errors"

var (
	// ErrFormNotFound indicates that no form matches the requested id.
	ErrFormNotFound = errors.New("form not found")

	// ErrFingerprintNotFound is returned when a form exists but no fingerprint
	// could be resolved or derived for it.
	ErrFingerprintNotFound = errors.New("fingerprint not found")

	// ErrFormIDRequired is returned when publish intent was detected but no
	// form id could be resolved from the input.
	ErrFormIDRequired = errors.New("form id required")

	// ErrEmptyMessage is returned when a chat message is blank.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when a chat message exceeds the configured limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrPublishFailed wraps a registry failure.
	ErrPublishFailed = errors.New("publish failed")
)
