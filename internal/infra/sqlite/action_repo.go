/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
)

// ActionRepository handles action persistence.
type ActionRepository struct {
	db queryer
}

func NewActionRepository(db queryer) *ActionRepository {
	return &ActionRepository{db: db}
}

type actionRow struct {
	action            model.Action
	targetID          int64
	distributionSetID int64
}

func scanAction(row interface{ Scan(...any) error }) (*actionRow, error) {
	var r actionRow
	var status string
	if err := row.Scan(&r.action.ID, &r.action.Tenant, &r.targetID, &r.distributionSetID, &status, &r.action.Active, &r.action.CreatedAt, &r.action.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	r.action.Status = st
	return &r, nil
}

const actionColumns = `id, tenant, target_id, distribution_set_id, status, active, created_at, updated_at`

// Create inserts a new action and returns the inserted id.
func (r *ActionRepository) Create(ctx context.Context, tenant string, targetID, distributionSetID int64, status model.Status, now time.Time) (int64, error) {
	const q = `
		INSERT INTO actions (tenant, target_id, distribution_set_id, status, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, tenant, targetID, distributionSetID, string(status), now, now)
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	return res.LastInsertId()
}

// FindWithDetails returns the action with its target and distribution set, or nil.
func (r *ActionRepository) FindWithDetails(ctx context.Context, tenant string, id int64) (*model.Action, error) {
	const q = `
		SELECT ` + actionColumns + `
		FROM actions
		WHERE tenant = ? AND id = ?
		LIMIT 1
	`
	row, err := scanAction(r.db.QueryRowContext(ctx, q, tenant, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("action scan: %w", err)
	}
	return r.withDetails(ctx, row)
}

// FindOldestActiveByTarget returns the active action with the lowest id for the target, or nil.
func (r *ActionRepository) FindOldestActiveByTarget(ctx context.Context, tenant string, targetID int64) (*model.Action, error) {
	const q = `
		SELECT ` + actionColumns + `
		FROM actions
		WHERE tenant = ? AND target_id = ? AND active = 1
		ORDER BY id ASC
		LIMIT 1
	`
	row, err := scanAction(r.db.QueryRowContext(ctx, q, tenant, targetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("action scan: %w", err)
	}
	return r.withDetails(ctx, row)
}

// CountActiveByTarget returns the number of active actions of the target.
func (r *ActionRepository) CountActiveByTarget(ctx context.Context, targetID int64) (int, error) {
	const q = `
		SELECT COUNT(*)
		FROM actions
		WHERE target_id = ? AND active = 1
	`
	var n int
	if err := r.db.QueryRowContext(ctx, q, targetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active actions: %w", err)
	}
	return n, nil
}

// UpdateStatus stores the latest status and the active flag of the action.
func (r *ActionRepository) UpdateStatus(ctx context.Context, id int64, status model.Status, active bool, now time.Time) error {
	const q = `
		UPDATE actions
		SET status = ?, active = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, q, string(status), active, now, id)
	if err != nil {
		return fmt.Errorf("update action status: %w", err)
	}
	return expectAffected(res)
}

func (r *ActionRepository) withDetails(ctx context.Context, row *actionRow) (*model.Action, error) {
	target, err := NewTargetRepository(r.db).FindByID(ctx, row.targetID)
	if err != nil {
		return nil, err
	}
	ds, err := NewDistributionSetRepository(r.db).FindByID(ctx, row.action.Tenant, row.distributionSetID)
	if err != nil {
		return nil, err
	}
	a := row.action
	a.Target = target
	a.DistributionSet = ds
	return &a, nil
}

// ActionStatusRepository handles the append-only status history of actions.
type ActionStatusRepository struct {
	db queryer
}

func NewActionStatusRepository(db queryer) *ActionStatusRepository {
	return &ActionStatusRepository{db: db}
}

// Append inserts one history entry and returns the inserted id.
func (r *ActionStatusRepository) Append(ctx context.Context, s *model.ActionStatusCreate) (int64, error) {
	var messages []byte
	if len(s.Messages) > 0 {
		var err error
		if messages, err = cbor.Marshal(s.Messages); err != nil {
			return 0, fmt.Errorf("encode status messages: %w", err)
		}
	}
	occurredAt := s.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO action_statuses (action_id, status, messages, occurred_at)
		VALUES (?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, s.ActionID, string(s.Status), messages, occurredAt)
	if err != nil {
		return 0, fmt.Errorf("insert action status: %w", err)
	}
	return res.LastInsertId()
}

// ListByAction returns the history of the action, oldest first.
func (r *ActionStatusRepository) ListByAction(ctx context.Context, actionID int64) ([]model.ActionStatus, error) {
	const q = `
		SELECT id, action_id, status, messages, occurred_at
		FROM action_statuses
		WHERE action_id = ?
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, q, actionID)
	if err != nil {
		return nil, fmt.Errorf("query action statuses: %w", err)
	}
	defer rows.Close()

	statuses := []model.ActionStatus{}
	for rows.Next() {
		var s model.ActionStatus
		var status string
		var messages []byte
		if err := rows.Scan(&s.ID, &s.ActionID, &status, &messages, &s.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan action status: %w", err)
		}
		s.Status = model.Status(status)
		if len(messages) > 0 {
			if err := cbor.Unmarshal(messages, &s.Messages); err != nil {
				return nil, fmt.Errorf("decode status messages: %w", err)
			}
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return statuses, nil
}
