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

	"github.com/kentakayama/dmf-over-amqp/internal/domain"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
)

// TargetRepository handles target (device) persistence.
type TargetRepository struct {
	db queryer
}

// NewTargetRepository creates a new instance of TargetRepository.
func NewTargetRepository(db queryer) *TargetRepository {
	return &TargetRepository{db: db}
}

const targetColumns = `id, tenant, controller_id, address, update_status, last_target_query, created_at`

func scanTarget(row interface{ Scan(...any) error }) (*model.Target, error) {
	var t model.Target
	var status string
	var lastQuery sql.NullTime
	if err := row.Scan(&t.ID, &t.Tenant, &t.ControllerID, &t.Address, &status, &lastQuery, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.UpdateStatus = model.TargetUpdateStatus(status)
	if lastQuery.Valid {
		lq := lastQuery.Time.UTC()
		t.LastTargetQuery = &lq
	}
	return &t, nil
}

// FindByControllerID returns the target, or nil if the controller id is unknown within the tenant.
func (r *TargetRepository) FindByControllerID(ctx context.Context, tenant, controllerID string) (*model.Target, error) {
	const q = `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE tenant = ? AND controller_id = ?
		LIMIT 1
	`
	t, err := scanTarget(r.db.QueryRowContext(ctx, q, tenant, controllerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("target scan: %w", err)
	}

	attrs, err := r.Attributes(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.Attributes = attrs
	return t, nil
}

// FindByID returns the target with the given id, or nil.
func (r *TargetRepository) FindByID(ctx context.Context, id int64) (*model.Target, error) {
	const q = `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE id = ?
		LIMIT 1
	`
	t, err := scanTarget(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("target scan: %w", err)
	}
	return t, nil
}

// Upsert registers the controller id within the tenant, or updates its address if it is already known.
// The operation is a single statement, so concurrent registrations of the same device never duplicate it.
func (r *TargetRepository) Upsert(ctx context.Context, tenant, controllerID, address string, now time.Time) error {
	const q = `
		INSERT INTO targets (tenant, controller_id, address, update_status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant, controller_id) DO UPDATE SET address = excluded.address
	`
	if _, err := r.db.ExecContext(ctx, q, tenant, controllerID, address, string(model.TargetUpdateStatusRegistered), now); err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}
	return nil
}

// TouchLastQuery stores the time the device was last heard of.
func (r *TargetRepository) TouchLastQuery(ctx context.Context, tenant, controllerID string, at time.Time) error {
	const q = `
		UPDATE targets
		SET last_target_query = ?
		WHERE tenant = ? AND controller_id = ?
	`
	res, err := r.db.ExecContext(ctx, q, at.UTC(), tenant, controllerID)
	if err != nil {
		return fmt.Errorf("update last_target_query: %w", err)
	}
	return expectAffected(res)
}

// SetUpdateStatus stores the assignment state of the target.
func (r *TargetRepository) SetUpdateStatus(ctx context.Context, targetID int64, status model.TargetUpdateStatus) error {
	const q = `
		UPDATE targets
		SET update_status = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, q, string(status), targetID)
	if err != nil {
		return fmt.Errorf("update update_status: %w", err)
	}
	return expectAffected(res)
}

// MergeAttributes inserts or overwrites the given attributes; attributes not named are kept.
func (r *TargetRepository) MergeAttributes(ctx context.Context, targetID int64, attributes map[string]string) error {
	const q = `
		INSERT INTO target_attributes (target_id, attr_key, attr_value)
		VALUES (?, ?, ?)
		ON CONFLICT (target_id, attr_key) DO UPDATE SET attr_value = excluded.attr_value
	`
	for k, v := range attributes {
		if _, err := r.db.ExecContext(ctx, q, targetID, k, v); err != nil {
			return fmt.Errorf("upsert attribute %q: %w", k, err)
		}
	}
	return nil
}

// Attributes returns all attributes of the target; the map is empty, not nil, when none are stored.
func (r *TargetRepository) Attributes(ctx context.Context, targetID int64) (map[string]string, error) {
	const q = `
		SELECT attr_key, attr_value
		FROM target_attributes
		WHERE target_id = ?
	`
	rows, err := r.db.QueryContext(ctx, q, targetID)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer rows.Close()

	attrs := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		attrs[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return attrs, nil
}

func expectAffected(res sql.Result) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
