/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"fmt"
	"time"
)

// Status is the server-side status of an action.
type Status string

const (
	StatusDownload       Status = "DOWNLOAD"
	StatusRetrieved      Status = "RETRIEVED"
	StatusRunning        Status = "RUNNING"
	StatusWarning        Status = "WARNING"
	StatusFinished       Status = "FINISHED"
	StatusError          Status = "ERROR"
	StatusCanceling      Status = "CANCELING"
	StatusCanceled       Status = "CANCELED"
	StatusCancelRejected Status = "CANCEL_REJECTED"
)

// ParseStatus resolves a persisted status value.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusDownload, StatusRetrieved, StatusRunning, StatusWarning,
		StatusFinished, StatusError, StatusCanceling, StatusCanceled, StatusCancelRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown action status %q", s)
	}
}

// IsTerminal reports whether the status closes the action.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusError || s == StatusCanceled
}

// Action represents one update assignment to a target.
type Action struct {
	ID              int64
	Tenant          string
	Target          *Target
	DistributionSet *DistributionSet
	Status          Status
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsCancelingOrCanceled reports whether a cancellation was requested for the action.
func (a *Action) IsCancelingOrCanceled() bool {
	return a.Status == StatusCanceling || a.Status == StatusCanceled
}
