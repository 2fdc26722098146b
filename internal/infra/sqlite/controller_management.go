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
	"strings"
	"time"

	"github.com/kentakayama/dmf-over-amqp/internal/domain"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/service"
)

var _ service.ControllerManagement = (*ControllerManagement)(nil)

// ControllerManagement implements the device-facing repository operations on SQLite.
// Every mutating operation runs in its own transaction.
type ControllerManagement struct {
	db  *sql.DB
	now func() time.Time
}

func NewControllerManagement(db *sql.DB) *ControllerManagement {
	return &ControllerManagement{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func validateTarget(tenant, controllerID string) error {
	if strings.TrimSpace(tenant) == "" {
		return domain.ErrInvalidTenant
	}
	if strings.TrimSpace(controllerID) == "" {
		return domain.ErrInvalidControllerID
	}
	return nil
}

// FindOrRegisterTargetIfItDoesNotExist registers the device on first contact and refreshes its address afterwards.
func (m *ControllerManagement) FindOrRegisterTargetIfItDoesNotExist(ctx context.Context, tenant, controllerID, address string) (*model.Target, error) {
	if err := validateTarget(tenant, controllerID); err != nil {
		return nil, err
	}

	var target *model.Target
	err := withTx(ctx, m.db, func(tx *sql.Tx) error {
		repo := NewTargetRepository(tx)
		if err := repo.Upsert(ctx, tenant, controllerID, address, m.now()); err != nil {
			return err
		}
		var err error
		target, err = repo.FindByControllerID(ctx, tenant, controllerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

func (m *ControllerManagement) FindOldestActiveActionByTarget(ctx context.Context, tenant, controllerID string) (*model.Action, error) {
	target, err := NewTargetRepository(m.db).FindByControllerID(ctx, tenant, controllerID)
	if err != nil || target == nil {
		return nil, err
	}
	return NewActionRepository(m.db).FindOldestActiveByTarget(ctx, tenant, target.ID)
}

func (m *ControllerManagement) FindActionWithDetails(ctx context.Context, tenant string, actionID int64) (*model.Action, error) {
	return NewActionRepository(m.db).FindWithDetails(ctx, tenant, actionID)
}

// AddCancelActionStatus appends a status to an action that is being canceled.
// A CANCELED status closes the action; it is only legal on canceling or canceled actions.
func (m *ControllerManagement) AddCancelActionStatus(ctx context.Context, tenant string, status *model.ActionStatusCreate) (*model.Action, error) {
	var action *model.Action
	err := withTx(ctx, m.db, func(tx *sql.Tx) error {
		var err error
		action, err = m.findForStatus(ctx, tx, tenant, status.ActionID)
		if err != nil {
			return err
		}
		if !action.IsCancelingOrCanceled() {
			return fmt.Errorf("action %d on state %s: %w", action.ID, action.Status, domain.ErrCancelNotAllowed)
		}

		if _, err := NewActionStatusRepository(tx).Append(ctx, status); err != nil {
			return err
		}
		if status.Status != model.StatusCanceled || !action.Active {
			return nil
		}

		now := m.now()
		if err := NewActionRepository(tx).UpdateStatus(ctx, action.ID, model.StatusCanceled, false, now); err != nil {
			return err
		}
		action.Status = model.StatusCanceled
		action.Active = false
		action.UpdatedAt = now
		return m.releaseTarget(ctx, tx, action.Target, model.TargetUpdateStatusInSync)
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// AddUpdateActionStatus appends a progress or result status.
// FINISHED and ERROR close the action. Statuses for an already closed action are kept in the history
// but do not reopen it.
func (m *ControllerManagement) AddUpdateActionStatus(ctx context.Context, tenant string, status *model.ActionStatusCreate) (*model.Action, error) {
	var action *model.Action
	err := withTx(ctx, m.db, func(tx *sql.Tx) error {
		var err error
		action, err = m.findForStatus(ctx, tx, tenant, status.ActionID)
		if err != nil {
			return err
		}

		if _, err := NewActionStatusRepository(tx).Append(ctx, status); err != nil {
			return err
		}
		if !action.Active {
			return nil
		}

		active := !status.Status.IsTerminal()
		now := m.now()
		if err := NewActionRepository(tx).UpdateStatus(ctx, action.ID, status.Status, active, now); err != nil {
			return err
		}
		action.Status = status.Status
		action.Active = active
		action.UpdatedAt = now

		switch status.Status {
		case model.StatusFinished, model.StatusCanceled:
			return m.releaseTarget(ctx, tx, action.Target, model.TargetUpdateStatusInSync)
		case model.StatusError:
			return NewTargetRepository(tx).SetUpdateStatus(ctx, action.Target.ID, model.TargetUpdateStatusError)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// UpdateControllerAttributes merges the reported attributes into the stored ones.
func (m *ControllerManagement) UpdateControllerAttributes(ctx context.Context, tenant, controllerID string, attributes map[string]string) (*model.Target, error) {
	var target *model.Target
	err := withTx(ctx, m.db, func(tx *sql.Tx) error {
		repo := NewTargetRepository(tx)
		t, err := repo.FindByControllerID(ctx, tenant, controllerID)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("target %q: %w", controllerID, domain.ErrNotFound)
		}
		if err := repo.MergeAttributes(ctx, t.ID, attributes); err != nil {
			return err
		}
		target, err = repo.FindByControllerID(ctx, tenant, controllerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

func (m *ControllerManagement) UpdateLastTargetQuery(ctx context.Context, tenant, controllerID string, at time.Time) (*model.Target, error) {
	repo := NewTargetRepository(m.db)
	if err := repo.TouchLastQuery(ctx, tenant, controllerID, at); err != nil {
		return nil, fmt.Errorf("target %q: %w", controllerID, err)
	}
	return repo.FindByControllerID(ctx, tenant, controllerID)
}

func (m *ControllerManagement) findForStatus(ctx context.Context, tx *sql.Tx, tenant string, actionID int64) (*model.Action, error) {
	action, err := NewActionRepository(tx).FindWithDetails(ctx, tenant, actionID)
	if err != nil {
		return nil, err
	}
	if action == nil || action.Target == nil {
		return nil, fmt.Errorf("action %d: %w", actionID, domain.ErrNotFound)
	}
	return action, nil
}

// releaseTarget sets the target status once its last active action has been closed.
func (m *ControllerManagement) releaseTarget(ctx context.Context, tx *sql.Tx, target *model.Target, status model.TargetUpdateStatus) error {
	n, err := NewActionRepository(tx).CountActiveByTarget(ctx, target.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if err := NewTargetRepository(tx).SetUpdateStatus(ctx, target.ID, status); err != nil {
		return err
	}
	target.UpdateStatus = status
	return nil
}
