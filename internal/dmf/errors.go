/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package dmf

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrMissingHeader          = errors.New("missing header")
	ErrUnknownMessageType     = errors.New("no handler for message type")
	ErrUnknownTopic           = errors.New("no handler for event topic")
	ErrNoReplyTo              = errors.New("no reply-to was set for the thing created message")
	ErrActionNotFound         = errors.New("action does not exist")
	ErrUnknownStatus          = errors.New("status for action does not exist")
	ErrCancelRejectNotAllowed = errors.New("cancel rejected message is not allowed")
	ErrInvalidPayload         = errors.New("invalid payload")
	ErrHandlerPanic           = errors.New("message handling panicked")
)

// RejectError marks a message that can never be handled successfully.
// The broker must drop it instead of redelivering.
type RejectError struct {
	Reason string
	Err    error
}

func (e *RejectError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("message rejected: %v", e.Err)
	}
	return fmt.Sprintf("message rejected: %s: %v", e.Reason, e.Err)
}

func (e *RejectError) Unwrap() error { return e.Err }

func reject(err error, format string, args ...any) *RejectError {
	return &RejectError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// IsReject reports whether err, or any error it wraps, is a *RejectError.
func IsReject(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}
