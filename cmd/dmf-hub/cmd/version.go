/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kentakayama/dmf-over-amqp/internal/server"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the dmf-hub version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "dmf-hub version %s\n", server.Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
