/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package dmf

import (
	"context"

	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
)

// Dispatcher sends commands to devices. Both operations are fire-and-forget;
// no reply is awaited.
type Dispatcher interface {
	SendUpdateMessageToTarget(ctx context.Context, tenant string, target *model.Target, actionID int64, modules []model.SoftwareModule) error
	SendCancelMessageToTarget(ctx context.Context, tenant, controllerID string, actionID int64, address string) error
}
