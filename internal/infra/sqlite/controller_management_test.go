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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kentakayama/dmf-over-amqp/internal/domain"
	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
)

const testTenant = "DEFAULT"

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })
	return db
}

// assignTestSet registers the device, creates a one-module distribution set and assigns it.
func assignTestSet(t *testing.T, db *sql.DB, controllerID string) *model.Action {
	t.Helper()
	ctx := context.Background()

	cm := NewControllerManagement(db)
	if _, err := cm.FindOrRegisterTargetIfItDoesNotExist(ctx, testTenant, controllerID, "amqp://vhost/replyTo"); err != nil {
		t.Fatalf("register error: %v", err)
	}

	dm := NewDeploymentManagement(db)
	ds := &model.DistributionSet{
		Name:    "os-" + controllerID,
		Version: time.Now().Format("150405.000000000"),
		Modules: []model.SoftwareModule{{Type: "os", Name: "rootfs", Version: "1.0.0"}},
	}
	dsID, err := dm.CreateDistributionSet(ctx, testTenant, ds)
	if err != nil {
		t.Fatalf("CreateDistributionSet error: %v", err)
	}
	action, err := dm.AssignDistributionSet(ctx, testTenant, controllerID, dsID)
	if err != nil {
		t.Fatalf("AssignDistributionSet error: %v", err)
	}
	return action
}

func TestControllerManagement_Register_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cm := NewControllerManagement(db)

	first, err := cm.FindOrRegisterTargetIfItDoesNotExist(ctx, testTenant, "dev-1", "amqp://vhost/a")
	if err != nil {
		t.Fatalf("first register error: %v", err)
	}
	if first.UpdateStatus != model.TargetUpdateStatusRegistered {
		t.Fatalf("UpdateStatus mismatch: got %v want %v", first.UpdateStatus, model.TargetUpdateStatusRegistered)
	}

	second, err := cm.FindOrRegisterTargetIfItDoesNotExist(ctx, testTenant, "dev-1", "amqp://vhost/b")
	if err != nil {
		t.Fatalf("second register error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("target duplicated: got id %d want %d", second.ID, first.ID)
	}
	if second.Address != "amqp://vhost/b" {
		t.Fatalf("Address mismatch: got %q", second.Address)
	}

	other, err := cm.FindOrRegisterTargetIfItDoesNotExist(ctx, "OTHER", "dev-1", "amqp://vhost/a")
	if err != nil {
		t.Fatalf("other tenant register error: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("tenants must not share targets")
	}
}

func TestControllerManagement_Register_InvalidInput(t *testing.T) {
	ctx := context.Background()
	cm := NewControllerManagement(openTestDB(t))

	if _, err := cm.FindOrRegisterTargetIfItDoesNotExist(ctx, "", "dev-1", ""); !errors.Is(err, domain.ErrInvalidTenant) {
		t.Fatalf("expected ErrInvalidTenant, got: %v", err)
	}
	if _, err := cm.FindOrRegisterTargetIfItDoesNotExist(ctx, testTenant, " ", ""); !errors.Is(err, domain.ErrInvalidControllerID) {
		t.Fatalf("expected ErrInvalidControllerID, got: %v", err)
	}
}

func TestControllerManagement_FindOldestActiveAction(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cm := NewControllerManagement(db)

	none, err := cm.FindOldestActiveActionByTarget(ctx, testTenant, "unknown")
	if err != nil || none != nil {
		t.Fatalf("expected nil action for unknown target, got %v, %v", none, err)
	}

	first := assignTestSet(t, db, "dev-1")
	second := assignTestSet(t, db, "dev-1")

	got, err := cm.FindOldestActiveActionByTarget(ctx, testTenant, "dev-1")
	if err != nil {
		t.Fatalf("FindOldestActiveActionByTarget error: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("oldest action mismatch: got %d want %d", got.ID, first.ID)
	}
	if got.DistributionSet == nil || len(got.DistributionSet.Modules) != 1 {
		t.Fatalf("expected distribution set with one module, got %+v", got.DistributionSet)
	}

	if _, err := cm.AddUpdateActionStatus(ctx, testTenant, model.NewActionStatusCreate(first.ID, model.StatusFinished, nil)); err != nil {
		t.Fatalf("AddUpdateActionStatus error: %v", err)
	}
	got, err = cm.FindOldestActiveActionByTarget(ctx, testTenant, "dev-1")
	if err != nil {
		t.Fatalf("FindOldestActiveActionByTarget error: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("oldest action mismatch: got %d want %d", got.ID, second.ID)
	}
}

func TestControllerManagement_AddUpdateActionStatus_Transitions(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cm := NewControllerManagement(db)

	tests := []struct {
		name         string
		status       model.Status
		wantActive   bool
		targetStatus model.TargetUpdateStatus
	}{
		{"download keeps active", model.StatusDownload, true, model.TargetUpdateStatusPending},
		{"warning keeps active", model.StatusWarning, true, model.TargetUpdateStatusPending},
		{"finished closes", model.StatusFinished, false, model.TargetUpdateStatusInSync},
		{"error closes", model.StatusError, false, model.TargetUpdateStatusError},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controllerID := "dev-" + string(rune('a'+i))
			action := assignTestSet(t, db, controllerID)

			got, err := cm.AddUpdateActionStatus(ctx, testTenant, model.NewActionStatusCreate(action.ID, tt.status, []string{"msg"}))
			if err != nil {
				t.Fatalf("AddUpdateActionStatus error: %v", err)
			}
			if got.Active != tt.wantActive {
				t.Fatalf("Active mismatch: got %v want %v", got.Active, tt.wantActive)
			}
			if got.Status != tt.status {
				t.Fatalf("Status mismatch: got %v want %v", got.Status, tt.status)
			}

			target, err := NewTargetRepository(db).FindByControllerID(ctx, testTenant, controllerID)
			if err != nil {
				t.Fatalf("FindByControllerID error: %v", err)
			}
			if target.UpdateStatus != tt.targetStatus {
				t.Fatalf("target status mismatch: got %v want %v", target.UpdateStatus, tt.targetStatus)
			}
		})
	}
}

func TestControllerManagement_AddUpdateActionStatus_ClosedActionKeepsHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cm := NewControllerManagement(db)
	action := assignTestSet(t, db, "dev-1")

	for i := 0; i < 2; i++ {
		if _, err := cm.AddUpdateActionStatus(ctx, testTenant, model.NewActionStatusCreate(action.ID, model.StatusFinished, nil)); err != nil {
			t.Fatalf("AddUpdateActionStatus #%d error: %v", i, err)
		}
	}
	got, err := cm.AddUpdateActionStatus(ctx, testTenant, model.NewActionStatusCreate(action.ID, model.StatusRunning, nil))
	if err != nil {
		t.Fatalf("AddUpdateActionStatus error: %v", err)
	}
	if got.Active || got.Status != model.StatusFinished {
		t.Fatalf("closed action must not reopen: active=%v status=%v", got.Active, got.Status)
	}

	history, err := NewDeploymentManagement(db).FindActionStatuses(ctx, testTenant, action.ID)
	if err != nil {
		t.Fatalf("FindActionStatuses error: %v", err)
	}
	// assignment + FINISHED twice + RUNNING
	if len(history) != 4 {
		t.Fatalf("history length mismatch: got %d want 4", len(history))
	}
	if history[1].Status != model.StatusFinished || history[2].Status != model.StatusFinished {
		t.Fatalf("duplicate FINISHED entries expected, got %v and %v", history[1].Status, history[2].Status)
	}
}

func TestControllerManagement_AddUpdateActionStatus_NotFound(t *testing.T) {
	ctx := context.Background()
	cm := NewControllerManagement(openTestDB(t))

	_, err := cm.AddUpdateActionStatus(ctx, testTenant, model.NewActionStatusCreate(42, model.StatusRunning, nil))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestControllerManagement_AddCancelActionStatus(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cm := NewControllerManagement(db)
	dm := NewDeploymentManagement(db)
	action := assignTestSet(t, db, "dev-1")

	// not canceling yet
	_, err := cm.AddCancelActionStatus(ctx, testTenant, model.NewActionStatusCreate(action.ID, model.StatusCanceled, nil))
	if !errors.Is(err, domain.ErrCancelNotAllowed) {
		t.Fatalf("expected ErrCancelNotAllowed, got: %v", err)
	}

	if _, err := dm.CancelAction(ctx, testTenant, action.ID); err != nil {
		t.Fatalf("CancelAction error: %v", err)
	}
	if _, err := dm.CancelAction(ctx, testTenant, action.ID); err == nil {
		t.Fatalf("expected error when canceling twice")
	}

	got, err := cm.AddCancelActionStatus(ctx, testTenant, model.NewActionStatusCreate(action.ID, model.StatusCanceled, []string{"canceled by device"}))
	if err != nil {
		t.Fatalf("AddCancelActionStatus error: %v", err)
	}
	if got.Active || got.Status != model.StatusCanceled {
		t.Fatalf("expected inactive CANCELED action, got active=%v status=%v", got.Active, got.Status)
	}
	if got.Target.UpdateStatus != model.TargetUpdateStatusInSync {
		t.Fatalf("target status mismatch: got %v", got.Target.UpdateStatus)
	}

	history, err := dm.FindActionStatuses(ctx, testTenant, action.ID)
	if err != nil {
		t.Fatalf("FindActionStatuses error: %v", err)
	}
	last := history[len(history)-1]
	if last.Status != model.StatusCanceled || len(last.Messages) != 1 || last.Messages[0] != "canceled by device" {
		t.Fatalf("unexpected last history entry: %+v", last)
	}
}

func TestControllerManagement_UpdateControllerAttributes_Merge(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cm := NewControllerManagement(db)

	if _, err := cm.UpdateControllerAttributes(ctx, testTenant, "dev-1", map[string]string{"a": "1"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	if _, err := cm.FindOrRegisterTargetIfItDoesNotExist(ctx, testTenant, "dev-1", ""); err != nil {
		t.Fatalf("register error: %v", err)
	}
	if _, err := cm.UpdateControllerAttributes(ctx, testTenant, "dev-1", map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("UpdateControllerAttributes error: %v", err)
	}
	target, err := cm.UpdateControllerAttributes(ctx, testTenant, "dev-1", map[string]string{"b": "3"})
	if err != nil {
		t.Fatalf("UpdateControllerAttributes error: %v", err)
	}
	if len(target.Attributes) != 2 || target.Attributes["a"] != "1" || target.Attributes["b"] != "3" {
		t.Fatalf("attributes mismatch: got %v", target.Attributes)
	}
}

func TestControllerManagement_UpdateLastTargetQuery(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cm := NewControllerManagement(db)

	if _, err := cm.UpdateLastTargetQuery(ctx, testTenant, "dev-1", time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	if _, err := cm.FindOrRegisterTargetIfItDoesNotExist(ctx, testTenant, "dev-1", ""); err != nil {
		t.Fatalf("register error: %v", err)
	}
	at := time.Now().UTC().Truncate(time.Second)
	target, err := cm.UpdateLastTargetQuery(ctx, testTenant, "dev-1", at)
	if err != nil {
		t.Fatalf("UpdateLastTargetQuery error: %v", err)
	}
	if target.LastTargetQuery == nil || !target.LastTargetQuery.Equal(at) {
		t.Fatalf("LastTargetQuery mismatch: got %v want %v", target.LastTargetQuery, at)
	}
}

func TestControllerManagement_ConcurrentWorkersOnFileDB(t *testing.T) {
	const (
		workers    = 4
		iterations = 100
	)
	ctx := context.Background()
	db, err := InitDB(ctx, filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })

	action := assignTestSet(t, db, "dev-shared")
	cm := NewControllerManagement(db)

	errs := make(chan error, workers*iterations*3)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				controllerID := fmt.Sprintf("dev-%d-%d", w, i%10)
				if _, err := cm.FindOrRegisterTargetIfItDoesNotExist(ctx, testTenant, controllerID, "amqp://vhost/"+controllerID); err != nil {
					errs <- fmt.Errorf("register %s: %w", controllerID, err)
				}
				if _, err := cm.UpdateLastTargetQuery(ctx, testTenant, "dev-shared", time.Now()); err != nil {
					errs <- fmt.Errorf("touch: %w", err)
				}
				status := model.NewActionStatusCreate(action.ID, model.StatusRunning, []string{fmt.Sprintf("worker %d step %d", w, i)})
				if _, err := cm.AddUpdateActionStatus(ctx, testTenant, status); err != nil {
					errs <- fmt.Errorf("update status: %w", err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	failures := 0
	for err := range errs {
		if failures == 0 {
			t.Errorf("first failure: %v", err)
		}
		failures++
	}
	if failures > 0 {
		t.Fatalf("failures %d/%d", failures, workers*iterations*3)
	}

	statuses, err := NewDeploymentManagement(db).FindActionStatuses(ctx, testTenant, action.ID)
	if err != nil {
		t.Fatalf("FindActionStatuses error: %v", err)
	}
	if want := 1 + workers*iterations; len(statuses) != want {
		t.Fatalf("expected %d statuses, got %d", want, len(statuses))
	}
}
