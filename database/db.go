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
	"sync"
	"time"

	"github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/escrow/config"
	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/internal/cache"
)

var instance *Datasource
var once sync.Once

// Datasource is the Postgres-backed store. Cache is optional.
type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}

		var c cache.Cache
		if configuration.Redis.Dns != "" {
			c, errConn = cache.NewCache()
			if errConn != nil {
				logrus.Warnf("transaction cache disabled: %v", errConn)
				c = nil
			}
		}
		instance = &Datasource{Conn: con, Cache: c}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "opening postgres connection")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err = db.Ping(); err != nil {
		logrus.Errorf("database Connection error ❌: %v", err)
		return nil, pkgerrors.Wrap(err, "pinging postgres")
	}
	return db, nil
}

// Ping reports whether the database is reachable.
func (d Datasource) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.Conn.PingContext(ctx); err != nil {
		return apierror.NewAPIError(apierror.ErrDependencyUnavailable, "database is unreachable", err)
	}
	return nil
}

// dbError classifies a driver error. Errors reported by the Postgres server
// itself are internal (or a conflict for unique violations); anything that never
// reached the server means the store is unavailable.
func dbError(message string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, message+": duplicate record", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, message, err)
	}
	return apierror.NewAPIError(apierror.ErrDependencyUnavailable, message, err)
}
