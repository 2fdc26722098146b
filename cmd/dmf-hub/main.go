/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import "github.com/kentakayama/dmf-over-amqp/cmd/dmf-hub/cmd"

func main() {
	cmd.Execute()
}
