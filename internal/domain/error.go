/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package domain

import "errors"

var (
	ErrNotFound            = errors.New("item not found")
	ErrCancelNotAllowed    = errors.New("action is not in canceling state")
	ErrInvalidTenant       = errors.New("tenant is empty")
	ErrInvalidControllerID = errors.New("controller id is empty")
)
