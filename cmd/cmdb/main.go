// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Command cmdb inspects and queries an i-doit CMDB through its JSON-RPC API.
package main

func main() {
	Execute()
}
