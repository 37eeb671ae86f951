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
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/escrow/internal/apierror"
)

var hardwareColumns = []string{"generator_id", "status", "registered_by", "assigned_to", "last_used_at"}

func TestGetHardwareGenerators_ByHolder(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE $1 = '' OR registered_by = $1 OR assigned_to = $1")).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows(hardwareColumns).
			AddRow("hw-1", "active", "w1", "", nil).
			AddRow("hw-2", "active", "w2", "w1", nil))

	gens, err := ds.GetHardwareGenerators(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, gens, 2)
	assert.Equal(t, "hw-1", gens[0].GeneratorID)
	assert.Equal(t, "w1", gens[1].AssignedTo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignHardwareGenerator(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE escrow.hardware_generators SET assigned_to = $2")).
		WithArgs("hw-1", "agent-1").
		WillReturnRows(sqlmock.NewRows(hardwareColumns).AddRow("hw-1", "active", "w1", "agent-1", nil))

	gen, err := ds.AssignHardwareGenerator(context.Background(), "hw-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", gen.AssignedTo)
	assert.Equal(t, "w1", gen.RegisteredBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignHardwareGenerator_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE escrow.hardware_generators")).
		WithArgs("hw-missing", "agent-1").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.AssignHardwareGenerator(context.Background(), "hw-missing", "agent-1")
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
