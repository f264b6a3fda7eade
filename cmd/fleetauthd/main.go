// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the fleetauthd command
package main

import (
	"os"

	"github.com/fleetauth/fleetauth/cmd/fleetauthd/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
