/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kentakayama/dmf-over-amqp/internal/domain/model"
	"github.com/kentakayama/dmf-over-amqp/internal/infra/sqlite"
	"github.com/kentakayama/dmf-over-amqp/internal/server"
)

var (
	tenantFlag   string
	noNotify     bool
	controllerID string
	dsName       string
	dsVersion    string
	moduleSpecs  []string
)

var actionCmd = &cobra.Command{
	Use:   "action",
	Short: "Manage update actions of targets",
	Long:  "Assign distribution sets to targets, cancel actions and show their status history.",
}

var actionAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign a new distribution set to a registered target",
	RunE: func(cmd *cobra.Command, args []string) error {
		modules := make([]model.SoftwareModule, 0, len(moduleSpecs))
		for _, s := range moduleSpecs {
			m, err := parseModule(s)
			if err != nil {
				return err
			}
			modules = append(modules, m)
		}

		return withDB(cmd.Context(), func(db *sql.DB) error {
			dm := sqlite.NewDeploymentManagement(db)
			dsID, err := dm.CreateDistributionSet(cmd.Context(), tenantFlag, &model.DistributionSet{
				Name:    dsName,
				Version: dsVersion,
				Modules: modules,
			})
			if err != nil {
				return fmt.Errorf("failed to create distribution set: %w", err)
			}
			action, err := dm.AssignDistributionSet(cmd.Context(), tenantFlag, controllerID, dsID)
			if err != nil {
				return fmt.Errorf("failed to assign distribution set: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Action %d assigned %s:%s to %q.\n", action.ID, dsName, dsVersion, controllerID)
			return notify(cmd.Context(), db, action.Target)
		})
	},
}

var actionCancelCmd = &cobra.Command{
	Use:   "cancel <action-id>",
	Short: "Request cancellation of an active action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actionID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid action id %q: %w", args[0], err)
		}
		return withDB(cmd.Context(), func(db *sql.DB) error {
			action, err := sqlite.NewDeploymentManagement(db).CancelAction(cmd.Context(), tenantFlag, actionID)
			if err != nil {
				return fmt.Errorf("failed to cancel action: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Action %d is %s.\n", action.ID, action.Status)
			return notify(cmd.Context(), db, action.Target)
		})
	},
}

var actionHistoryCmd = &cobra.Command{
	Use:   "history <action-id>",
	Short: "Show the status history of an action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actionID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid action id %q: %w", args[0], err)
		}
		return withDB(cmd.Context(), func(db *sql.DB) error {
			statuses, err := sqlite.NewDeploymentManagement(db).FindActionStatuses(cmd.Context(), tenantFlag, actionID)
			if err != nil {
				return fmt.Errorf("failed to get action history: %w", err)
			}
			for _, s := range statuses {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.OccurredAt.Format("2006-01-02T15:04:05Z07:00"), s.Status, strings.Join(s.Messages, "; "))
			}
			return nil
		})
	},
}

// parseModule reads a "type:name:version" module description.
func parseModule(value string) (model.SoftwareModule, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return model.SoftwareModule{}, fmt.Errorf("invalid module %q, expected type:name:version", value)
	}
	return model.SoftwareModule{Type: parts[0], Name: parts[1], Version: parts[2]}, nil
}

func withDB(ctx context.Context, fn func(db *sql.DB) error) error {
	db, err := sqlite.InitDB(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer sqlite.CloseDB(db)
	return fn(db)
}

func notify(ctx context.Context, db *sql.DB, target *model.Target) error {
	if noNotify || target == nil {
		return nil
	}
	if err := server.Notify(ctx, cfg, db, target); err != nil {
		return fmt.Errorf("failed to notify target %q: %w", target.ControllerID, err)
	}
	return nil
}

func init() {
	actionCmd.PersistentFlags().StringVar(&tenantFlag, "tenant", "DEFAULT", "tenant of the target")
	actionCmd.PersistentFlags().BoolVar(&noNotify, "no-notify", false, "only update the database, do not send a command to the device")

	actionAssignCmd.Flags().StringVar(&controllerID, "controller", "", "controller id of the target")
	actionAssignCmd.Flags().StringVar(&dsName, "name", "", "distribution set name")
	actionAssignCmd.Flags().StringVar(&dsVersion, "version", "", "distribution set version")
	actionAssignCmd.Flags().StringArrayVar(&moduleSpecs, "module", nil, "software module as type:name:version (repeatable)")
	_ = actionAssignCmd.MarkFlagRequired("controller")
	_ = actionAssignCmd.MarkFlagRequired("name")
	_ = actionAssignCmd.MarkFlagRequired("version")

	actionCmd.AddCommand(actionAssignCmd)
	actionCmd.AddCommand(actionCancelCmd)
	actionCmd.AddCommand(actionHistoryCmd)
	rootCmd.AddCommand(actionCmd)
}
