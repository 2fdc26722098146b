/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// SoftwareModule is one installable part of a distribution set.
type SoftwareModule struct {
	ID      int64
	Type    string
	Name    string
	Version string
}

// DistributionSet is the software bundle an action rolls out.
type DistributionSet struct {
	ID        int64
	Tenant    string
	Name      string
	Version   string
	Modules   []SoftwareModule
	CreatedAt time.Time
}
