/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"
	"time"

	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
)

// ControllerManagement defines the repository surface used by the device message plane.
// Every operation is scoped to exactly one tenant.
// Find operations return (nil, nil) when nothing matches.
type ControllerManagement interface {
	FindOrRegisterTargetIfItDoesNotExist(ctx context.Context, tenant, controllerID, address string) (*model.Target, error)
	FindOldestActiveActionByTarget(ctx context.Context, tenant, controllerID string) (*model.Action, error)
	FindActionWithDetails(ctx context.Context, tenant string, actionID int64) (*model.Action, error)
	AddCancelActionStatus(ctx context.Context, tenant string, status *model.ActionStatusCreate) (*model.Action, error)
	AddUpdateActionStatus(ctx context.Context, tenant string, status *model.ActionStatusCreate) (*model.Action, error)
	UpdateControllerAttributes(ctx context.Context, tenant, controllerID string, attributes map[string]string) (*model.Target, error)
	UpdateLastTargetQuery(ctx context.Context, tenant, controllerID string, at time.Time) (*model.Target, error)
}

// DeploymentManagement defines the operator-side operations that create and cancel assignments.
type DeploymentManagement interface {
	CreateDistributionSet(ctx context.Context, tenant string, ds *model.DistributionSet) (int64, error)
	AssignDistributionSet(ctx context.Context, tenant, controllerID string, distributionSetID int64) (*model.Action, error)
	CancelAction(ctx context.Context, tenant string, actionID int64) (*model.Action, error)
	FindActionStatuses(ctx context.Context, tenant string, actionID int64) ([]model.ActionStatus, error)
}
