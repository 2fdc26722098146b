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

	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
)

// DistributionSetRepository handles distribution set and software module persistence.
type DistributionSetRepository struct {
	db queryer
}

func NewDistributionSetRepository(db queryer) *DistributionSetRepository {
	return &DistributionSetRepository{db: db}
}

// Create inserts the distribution set together with its modules and returns the inserted id.
// Module ids are filled in on ds.Modules.
func (r *DistributionSetRepository) Create(ctx context.Context, ds *model.DistributionSet) (int64, error) {
	const insertSet = `
		INSERT INTO distribution_sets (tenant, name, version, created_at)
		VALUES (?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, insertSet, ds.Tenant, ds.Name, ds.Version, ds.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert distribution set: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	const insertModule = `
		INSERT INTO software_modules (distribution_set_id, module_type, name, version)
		VALUES (?, ?, ?, ?)
	`
	for i := range ds.Modules {
		m := &ds.Modules[i]
		res, err := r.db.ExecContext(ctx, insertModule, id, m.Type, m.Name, m.Version)
		if err != nil {
			return 0, fmt.Errorf("insert software module: %w", err)
		}
		if m.ID, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	}

	ds.ID = id
	return id, nil
}

// FindByID returns the distribution set with its modules, or nil.
func (r *DistributionSetRepository) FindByID(ctx context.Context, tenant string, id int64) (*model.DistributionSet, error) {
	const q = `
		SELECT id, tenant, name, version, created_at
		FROM distribution_sets
		WHERE tenant = ? AND id = ?
		LIMIT 1
	`
	var ds model.DistributionSet
	err := r.db.QueryRowContext(ctx, q, tenant, id).Scan(&ds.ID, &ds.Tenant, &ds.Name, &ds.Version, &ds.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("distribution set scan: %w", err)
	}

	modules, err := r.modules(ctx, ds.ID)
	if err != nil {
		return nil, err
	}
	ds.Modules = modules
	return &ds, nil
}

func (r *DistributionSetRepository) modules(ctx context.Context, distributionSetID int64) ([]model.SoftwareModule, error) {
	const q = `
		SELECT id, module_type, name, version
		FROM software_modules
		WHERE distribution_set_id = ?
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, q, distributionSetID)
	if err != nil {
		return nil, fmt.Errorf("query software modules: %w", err)
	}
	defer rows.Close()

	modules := []model.SoftwareModule{}
	for rows.Next() {
		var m model.SoftwareModule
		if err := rows.Scan(&m.ID, &m.Type, &m.Name, &m.Version); err != nil {
			return nil, fmt.Errorf("scan software module: %w", err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return modules, nil
}
