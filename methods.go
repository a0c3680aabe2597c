// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"fmt"
	"strings"
)

// JSON-RPC method names used by the client
const (
	// MethodVersion returns server and API version information
	MethodVersion = "idoit.version"

	// MethodObjectTypes lists object types, optionally filtered
	MethodObjectTypes = "cmdb.object_types"

	// MethodObjectTypeCategories lists the categories included in a type
	MethodObjectTypeCategories = "cmdb.object_type_categories"

	// MethodCategoryInfo returns the field schema of a category
	MethodCategoryInfo = "cmdb.category_info"

	// MethodObjects lists objects matching a filter
	MethodObjects = "cmdb.objects"

	// MethodObjectCreate creates an object
	MethodObjectCreate = "cmdb.object.create"

	// MethodObjectUpdate updates an object's top-level attributes
	MethodObjectUpdate = "cmdb.object.update"

	// MethodCategoryRead reads the category records of an object
	MethodCategoryRead = "cmdb.category"

	// MethodCategoryCreate creates a category record
	MethodCategoryCreate = "cmdb.category.create"

	// MethodCategoryUpdate updates a category record
	MethodCategoryUpdate = "cmdb.category.update"

	// MethodCategoryDelete deletes a category record
	MethodCategoryDelete = "cmdb.category.delete"

	// MethodDialogRead lists the entries of a dialog field
	MethodDialogRead = "cmdb.dialog.read"

	// MethodDialogCreate adds an entry to a dialog field
	MethodDialogCreate = "cmdb.dialog.create"
)

// MaxMethodLength bounds JSON-RPC method names
const MaxMethodLength = 128

// ValidateMethod checks that a method name is well formed
//
// Method names are dot separated identifiers ("cmdb.category.create"). The
// check is syntactic; the server decides whether a method exists.
//
// Example:
//
//	if err := idoit.ValidateMethod("cmdb.objects"); err != nil {
//	    log.Fatal(err)
//	}
func ValidateMethod(method string) error {
	if method == "" {
		return fmt.Errorf("method cannot be empty")
	}
	if len(method) > MaxMethodLength {
		return fmt.Errorf("method exceeds maximum length of %d characters", MaxMethodLength)
	}
	for _, part := range strings.Split(method, ".") {
		if part == "" {
			return fmt.Errorf("invalid method: %s (empty segment)", method)
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			if !(ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9') {
				return fmt.Errorf("invalid method: %s (unexpected character %q)", method, ch)
			}
		}
	}
	return nil
}
