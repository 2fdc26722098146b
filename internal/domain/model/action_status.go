/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// ActionStatus is one immutable entry of an action's status history.
type ActionStatus struct {
	ID         int64
	ActionID   int64
	Status     Status
	Messages   []string
	OccurredAt time.Time
}

// ActionStatusCreate carries a status entry to be appended by the repository.
type ActionStatusCreate struct {
	ActionID   int64
	Status     Status
	Messages   []string
	OccurredAt time.Time
}

// NewActionStatusCreate returns a status entry for the given action, stamped with the current time.
func NewActionStatusCreate(actionID int64, status Status, messages []string) *ActionStatusCreate {
	return &ActionStatusCreate{
		ActionID:   actionID,
		Status:     status,
		Messages:   messages,
		OccurredAt: time.Now().UTC(),
	}
}
