/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package dmf

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/kentakayama/dmf-over-amqp/internal/domain"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/service"
)

var _ service.ControllerManagement = (*fakeController)(nil)

// fakeController keeps targets and actions in memory with the same bookkeeping as the SQLite store.
type fakeController struct {
	mu sync.Mutex

	nextID    int64
	targets   map[string]*model.Target
	actions   map[int64]*model.Action
	statuses  []model.ActionStatusCreate
	lastQuery map[string]time.Time
	tenants   []string

	cancelCalls int
	updateCalls int

	err     error
	panicOn string
}

func newFakeController() *fakeController {
	return &fakeController{
		targets:   map[string]*model.Target{},
		actions:   map[int64]*model.Action{},
		lastQuery: map[string]time.Time{},
	}
}

func targetKey(tenant, controllerID string) string { return tenant + "/" + controllerID }

func (f *fakeController) enter(op, tenant string) error {
	if f.panicOn == op {
		panic("boom in " + op)
	}
	f.tenants = append(f.tenants, tenant)
	return f.err
}

func copyAction(a *model.Action) *model.Action {
	c := *a
	t := *a.Target
	c.Target = &t
	return &c
}

// addAction stores an active action for an already registered or implicitly created target.
func (f *fakeController) addAction(tenant, controllerID string, status model.Status, modules ...string) *model.Action {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.targets[targetKey(tenant, controllerID)]
	if !ok {
		f.nextID++
		t = &model.Target{ID: f.nextID, Tenant: tenant, ControllerID: controllerID, Address: "amqp://vhost/" + controllerID, Attributes: map[string]string{}}
		f.targets[targetKey(tenant, controllerID)] = t
	}
	ds := &model.DistributionSet{ID: 1, Tenant: tenant, Name: "ds", Version: "1"}
	for i, m := range modules {
		ds.Modules = append(ds.Modules, model.SoftwareModule{ID: int64(i + 1), Type: "os", Name: m, Version: "1.0"})
	}
	f.nextID++
	a := &model.Action{ID: f.nextID, Tenant: tenant, Target: t, DistributionSet: ds, Status: status, Active: !status.IsTerminal()}
	f.actions[a.ID] = a
	return copyAction(a)
}

func (f *fakeController) action(id int64) model.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.actions[id]
}

func (f *fakeController) targetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

func (f *fakeController) FindOrRegisterTargetIfItDoesNotExist(_ context.Context, tenant, controllerID, address string) (*model.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("register", tenant); err != nil {
		return nil, err
	}
	t, ok := f.targets[targetKey(tenant, controllerID)]
	if !ok {
		f.nextID++
		t = &model.Target{ID: f.nextID, Tenant: tenant, ControllerID: controllerID, UpdateStatus: model.TargetUpdateStatusRegistered, Attributes: map[string]string{}}
		f.targets[targetKey(tenant, controllerID)] = t
	}
	t.Address = address
	c := *t
	return &c, nil
}

func (f *fakeController) FindOldestActiveActionByTarget(_ context.Context, tenant, controllerID string) (*model.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("oldest", tenant); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(f.actions))
	for id := range f.actions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		a := f.actions[id]
		if a.Active && a.Tenant == tenant && a.Target.ControllerID == controllerID {
			return copyAction(a), nil
		}
	}
	return nil, nil
}

func (f *fakeController) FindActionWithDetails(_ context.Context, tenant string, actionID int64) (*model.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("find", tenant); err != nil {
		return nil, err
	}
	a, ok := f.actions[actionID]
	if !ok || a.Tenant != tenant {
		return nil, nil
	}
	return copyAction(a), nil
}

func (f *fakeController) AddCancelActionStatus(_ context.Context, tenant string, s *model.ActionStatusCreate) (*model.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("cancel", tenant); err != nil {
		return nil, err
	}
	f.cancelCalls++
	a, ok := f.actions[s.ActionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !a.IsCancelingOrCanceled() {
		return nil, fmt.Errorf("action %d: %w", a.ID, domain.ErrCancelNotAllowed)
	}
	f.statuses = append(f.statuses, *s)
	if s.Status == model.StatusCanceled {
		a.Status = model.StatusCanceled
		a.Active = false
	}
	return copyAction(a), nil
}

func (f *fakeController) AddUpdateActionStatus(_ context.Context, tenant string, s *model.ActionStatusCreate) (*model.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("update", tenant); err != nil {
		return nil, err
	}
	f.updateCalls++
	a, ok := f.actions[s.ActionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	f.statuses = append(f.statuses, *s)
	if a.Active {
		a.Status = s.Status
		a.Active = !s.Status.IsTerminal()
	}
	return copyAction(a), nil
}

func (f *fakeController) UpdateControllerAttributes(_ context.Context, tenant, controllerID string, attributes map[string]string) (*model.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("attributes", tenant); err != nil {
		return nil, err
	}
	t, ok := f.targets[targetKey(tenant, controllerID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	maps.Copy(t.Attributes, attributes)
	c := *t
	return &c, nil
}

func (f *fakeController) UpdateLastTargetQuery(_ context.Context, tenant, controllerID string, at time.Time) (*model.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("touch", tenant); err != nil {
		return nil, err
	}
	t, ok := f.targets[targetKey(tenant, controllerID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	f.lastQuery[targetKey(tenant, controllerID)] = at
	c := *t
	return &c, nil
}

type sentCommand struct {
	cancel       bool
	tenant       string
	controllerID string
	actionID     int64
	address      string
	modules      []model.SoftwareModule
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sentCommand
	err  error
}

func (d *fakeDispatcher) SendUpdateMessageToTarget(_ context.Context, tenant string, target *model.Target, actionID int64, modules []model.SoftwareModule) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentCommand{tenant: tenant, controllerID: target.ControllerID, actionID: actionID, address: target.Address, modules: modules})
	return d.err
}

func (d *fakeDispatcher) SendCancelMessageToTarget(_ context.Context, tenant, controllerID string, actionID int64, address string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentCommand{cancel: true, tenant: tenant, controllerID: controllerID, actionID: actionID, address: address})
	return d.err
}

func (d *fakeDispatcher) commands() []sentCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentCommand(nil), d.sent...)
}
