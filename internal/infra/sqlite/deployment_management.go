/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kentakayama/dmf-over-amqp/internal/domain"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/service"
)

var _ service.DeploymentManagement = (*DeploymentManagement)(nil)

// DeploymentManagement implements the operator-side assignment operations on SQLite.
type DeploymentManagement struct {
	db  *sql.DB
	now func() time.Time
}

func NewDeploymentManagement(db *sql.DB) *DeploymentManagement {
	return &DeploymentManagement{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (m *DeploymentManagement) CreateDistributionSet(ctx context.Context, tenant string, ds *model.DistributionSet) (int64, error) {
	if tenant == "" {
		return 0, domain.ErrInvalidTenant
	}
	ds.Tenant = tenant
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = m.now()
	}

	var id int64
	err := withTx(ctx, m.db, func(tx *sql.Tx) error {
		var err error
		id, err = NewDistributionSetRepository(tx).Create(ctx, ds)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AssignDistributionSet creates a new active action for the target in RUNNING state.
func (m *DeploymentManagement) AssignDistributionSet(ctx context.Context, tenant, controllerID string, distributionSetID int64) (*model.Action, error) {
	var action *model.Action
	err := withTx(ctx, m.db, func(tx *sql.Tx) error {
		targets := NewTargetRepository(tx)
		target, err := targets.FindByControllerID(ctx, tenant, controllerID)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("target %q: %w", controllerID, domain.ErrNotFound)
		}
		ds, err := NewDistributionSetRepository(tx).FindByID(ctx, tenant, distributionSetID)
		if err != nil {
			return err
		}
		if ds == nil {
			return fmt.Errorf("distribution set %d: %w", distributionSetID, domain.ErrNotFound)
		}

		now := m.now()
		actions := NewActionRepository(tx)
		id, err := actions.Create(ctx, tenant, target.ID, ds.ID, model.StatusRunning, now)
		if err != nil {
			return err
		}
		initial := &model.ActionStatusCreate{
			ActionID:   id,
			Status:     model.StatusRunning,
			Messages:   []string{"Assignment initiated"},
			OccurredAt: now,
		}
		if _, err := NewActionStatusRepository(tx).Append(ctx, initial); err != nil {
			return err
		}
		if err := targets.SetUpdateStatus(ctx, target.ID, model.TargetUpdateStatusPending); err != nil {
			return err
		}
		action, err = actions.FindWithDetails(ctx, tenant, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// CancelAction moves an active action into CANCELING; the device confirms with CANCELED or CANCEL_REJECTED.
func (m *DeploymentManagement) CancelAction(ctx context.Context, tenant string, actionID int64) (*model.Action, error) {
	var action *model.Action
	err := withTx(ctx, m.db, func(tx *sql.Tx) error {
		actions := NewActionRepository(tx)
		a, err := actions.FindWithDetails(ctx, tenant, actionID)
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("action %d: %w", actionID, domain.ErrNotFound)
		}
		if !a.Active || a.IsCancelingOrCanceled() {
			return fmt.Errorf("action %d on state %s cannot be canceled", a.ID, a.Status)
		}

		now := m.now()
		if err := actions.UpdateStatus(ctx, a.ID, model.StatusCanceling, true, now); err != nil {
			return err
		}
		canceling := &model.ActionStatusCreate{
			ActionID:   a.ID,
			Status:     model.StatusCanceling,
			Messages:   []string{"Cancellation initiated"},
			OccurredAt: now,
		}
		if _, err := NewActionStatusRepository(tx).Append(ctx, canceling); err != nil {
			return err
		}
		a.Status = model.StatusCanceling
		a.UpdatedAt = now
		action = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

func (m *DeploymentManagement) FindActionStatuses(ctx context.Context, tenant string, actionID int64) ([]model.ActionStatus, error) {
	action, err := NewActionRepository(m.db).FindWithDetails(ctx, tenant, actionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, fmt.Errorf("action %d: %w", actionID, domain.ErrNotFound)
	}
	return NewActionStatusRepository(m.db).ListByAction(ctx, actionID)
}
