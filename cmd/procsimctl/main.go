// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command procsimctl is the command line client for a procsim server.
//
// # Environment Variables
//
//   - PROCSIM_SERVER: server base URL (default: http://localhost:5000)
//
// # Usage
//
//	procsimctl ps --user alice --sort cpu --desc
//	procsimctl kill 1042 --as alice
//	procsimctl sim start --interval 500ms
//	procsimctl snapshot create before-upgrade
//	procsimctl watch --pid 1042
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
