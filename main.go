// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"imgpipeline/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
