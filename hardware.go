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

package escrow

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/escrow/database"
	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

// HardwareRegistry answers whether a QR generator device may be used by a caller.
type HardwareRegistry interface {
	Authorize(ctx context.Context, generatorID, callerID string) error
}

// DatasourceHardwareRegistry checks devices registered in the escrow store.
type DatasourceHardwareRegistry struct {
	ds  database.IDataSource
	now func() time.Time
}

func NewDatasourceHardwareRegistry(ds database.IDataSource) *DatasourceHardwareRegistry {
	return &DatasourceHardwareRegistry{ds: ds, now: time.Now}
}

func (r *DatasourceHardwareRegistry) Authorize(ctx context.Context, generatorID, callerID string) error {
	gen, err := r.ds.GetHardwareGenerator(ctx, generatorID)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrNotFound) {
			return apierror.NewAPIError(apierror.ErrNotAuthorized, "invalid or unauthorized hardware QR generator", nil)
		}
		return err
	}
	if !gen.AuthorizedFor(callerID) {
		return apierror.NewAPIError(apierror.ErrNotAuthorized, "invalid or unauthorized hardware QR generator", nil)
	}
	if err := r.ds.TouchHardwareGenerator(ctx, generatorID, r.now()); err != nil {
		logrus.Warnf("failed to record use of hardware generator %s: %v", generatorID, err)
	}
	return nil
}

// RegisterHardwareGenerator records a device for the calling wholesaler. Admins
// may register a device on behalf of anyone named in gen.RegisteredBy.
func (e *Escrow) RegisterHardwareGenerator(ctx context.Context, p model.Principal, gen *model.HardwareGenerator) (*model.HardwareGenerator, error) {
	ctx, span := tracer.Start(ctx, "RegisterHardwareGenerator")
	defer span.End()

	if strings.TrimSpace(gen.GeneratorID) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "generator_id is required", nil)
	}
	switch {
	case p.IsAdmin():
		if gen.RegisteredBy == "" {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "registered_by is required", nil)
		}
	case p.Role == model.RoleWholesaler && p.ID != "":
		gen.RegisteredBy = p.ID
	default:
		return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, "only wholesalers can register hardware generators", nil)
	}
	if gen.Status == "" {
		gen.Status = model.HardwareStatusActive
	}
	if err := e.datasource.RegisterHardwareGenerator(ctx, gen); err != nil {
		return nil, err
	}
	return gen, nil
}

// ListHardwareGenerators returns the devices registered by or assigned to the
// caller. Admins see every device.
func (e *Escrow) ListHardwareGenerators(ctx context.Context, p model.Principal) ([]*model.HardwareGenerator, error) {
	ctx, span := tracer.Start(ctx, "ListHardwareGenerators")
	defer span.End()

	if p.IsAdmin() {
		return e.datasource.GetHardwareGenerators(ctx, "")
	}
	if p.ID == "" {
		return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, "a caller id is required to list hardware generators", nil)
	}
	return e.datasource.GetHardwareGenerators(ctx, p.ID)
}

// AssignHardwareGenerator lets the wholesaler that registered a device, or an
// admin, hand it to another party. The assignee may then issue codes with it.
func (e *Escrow) AssignHardwareGenerator(ctx context.Context, p model.Principal, generatorID, assignedTo string) (*model.HardwareGenerator, error) {
	ctx, span := tracer.Start(ctx, "AssignHardwareGenerator")
	defer span.End()

	assignedTo = strings.TrimSpace(assignedTo)
	if assignedTo == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "assigned_to is required", nil)
	}
	gen, err := e.datasource.GetHardwareGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !p.Is(model.RoleWholesaler, gen.RegisteredBy) {
		return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, "only the registering wholesaler or an admin can assign this hardware generator", nil)
	}
	gen, err = e.datasource.AssignHardwareGenerator(ctx, generatorID, assignedTo)
	if err != nil {
		return nil, logAndRecordError(span, "failed to assign hardware generator: ", err)
	}
	logrus.WithFields(logrus.Fields{"generator_id": generatorID, "assigned_to": assignedTo}).Info("hardware generator assigned")
	return gen, nil
}
