// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the aponia-demo command
package main

import (
	"os"

	"github.com/ap0nia/aponia-go/cmd/aponia-demo/app"
	"github.com/ap0nia/aponia-go/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
