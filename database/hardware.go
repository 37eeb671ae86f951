/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

func (d Datasource) RegisterHardwareGenerator(ctx context.Context, gen *model.HardwareGenerator) error {
	if gen.Status == "" {
		gen.Status = model.HardwareStatusActive
	}
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO escrow.hardware_generators (generator_id, status, registered_by, assigned_to, last_used_at)
		VALUES ($1, $2, $3, $4, $5)
	`, gen.GeneratorID, gen.Status, gen.RegisteredBy, gen.AssignedTo, gen.LastUsedAt)
	if err != nil {
		return dbError("Failed to register hardware generator", err)
	}
	return nil
}

func (d Datasource) GetHardwareGenerator(ctx context.Context, generatorID string) (*model.HardwareGenerator, error) {
	gen := &model.HardwareGenerator{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT generator_id, status, registered_by, assigned_to, last_used_at
		FROM escrow.hardware_generators
		WHERE generator_id = $1
	`, generatorID).Scan(&gen.GeneratorID, &gen.Status, &gen.RegisteredBy, &gen.AssignedTo, &gen.LastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Hardware generator '%s' not found", generatorID), nil)
		}
		return nil, dbError("Failed to retrieve hardware generator", err)
	}
	return gen, nil
}

func (d Datasource) GetHardwareGenerators(ctx context.Context, holderID string) ([]*model.HardwareGenerator, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT generator_id, status, registered_by, assigned_to, last_used_at
		FROM escrow.hardware_generators
		WHERE $1 = '' OR registered_by = $1 OR assigned_to = $1
		ORDER BY created_at DESC, generator_id
	`, holderID)
	if err != nil {
		return nil, dbError("Failed to retrieve hardware generators", err)
	}
	defer func() { _ = rows.Close() }()

	gens := []*model.HardwareGenerator{}
	for rows.Next() {
		gen := &model.HardwareGenerator{}
		if err := rows.Scan(&gen.GeneratorID, &gen.Status, &gen.RegisteredBy, &gen.AssignedTo, &gen.LastUsedAt); err != nil {
			return nil, dbError("Failed to scan hardware generator", err)
		}
		gens = append(gens, gen)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Failed to retrieve hardware generators", err)
	}
	return gens, nil
}

// AssignHardwareGenerator hands the device to assignedTo and returns the updated row.
func (d Datasource) AssignHardwareGenerator(ctx context.Context, generatorID, assignedTo string) (*model.HardwareGenerator, error) {
	gen := &model.HardwareGenerator{}
	err := d.Conn.QueryRowContext(ctx, `
		UPDATE escrow.hardware_generators SET assigned_to = $2
		WHERE generator_id = $1
		RETURNING generator_id, status, registered_by, assigned_to, last_used_at
	`, generatorID, assignedTo).Scan(&gen.GeneratorID, &gen.Status, &gen.RegisteredBy, &gen.AssignedTo, &gen.LastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Hardware generator '%s' not found", generatorID), nil)
		}
		return nil, dbError("Failed to assign hardware generator", err)
	}
	return gen, nil
}

// TouchHardwareGenerator records that the device minted a credential at at.
func (d Datasource) TouchHardwareGenerator(ctx context.Context, generatorID string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE escrow.hardware_generators SET last_used_at = $2 WHERE generator_id = $1
	`, generatorID, at)
	if err != nil {
		return dbError("Failed to update hardware generator", err)
	}
	return nil
}
