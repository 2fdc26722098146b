/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// TargetUpdateStatus summarises the assignment state of a target.
type TargetUpdateStatus string

const (
	TargetUpdateStatusUnknown    TargetUpdateStatus = "UNKNOWN"
	TargetUpdateStatusRegistered TargetUpdateStatus = "REGISTERED"
	TargetUpdateStatusPending    TargetUpdateStatus = "PENDING"
	TargetUpdateStatusInSync     TargetUpdateStatus = "IN_SYNC"
	TargetUpdateStatusError      TargetUpdateStatus = "ERROR"
)

// Target represents one managed device.
type Target struct {
	ID              int64
	Tenant          string
	ControllerID    string // unique per tenant
	Address         string // amqp://<vhost>/<reply-to>
	UpdateStatus    TargetUpdateStatus
	LastTargetQuery *time.Time // NULL until the device reports for the first time
	Attributes      map[string]string
	CreatedAt       time.Time
}
