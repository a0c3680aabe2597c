// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

// ChangeMethod is the kind of write a Change needs.
type ChangeMethod int

const (
	// ChangeCreate creates a new category record
	ChangeCreate ChangeMethod = iota + 1

	// ChangeUpdate writes changed fields of an existing record
	ChangeUpdate

	// ChangeDelete removes an existing record
	ChangeDelete
)

// String returns the method name
func (m ChangeMethod) String() string {
	switch m {
	case ChangeCreate:
		return "create"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RPCMethod returns the JSON-RPC method that performs the change.
func (m ChangeMethod) RPCMethod() string {
	switch m {
	case ChangeCreate:
		return MethodCategoryCreate
	case ChangeUpdate:
		return MethodCategoryUpdate
	case ChangeDelete:
		return MethodCategoryDelete
	default:
		return ""
	}
}

// Change is one pending write of category data.
type Change struct {
	Method ChangeMethod

	// RecordID is the category record, 0 for creates
	RecordID int64

	// Data holds the changed fields in wire form; nil for deletes
	Data map[string]any

	item *CategoryValues
	list *CategoryValuesList
}

// Empty reports whether the change would write nothing.
func (ch Change) Empty() bool {
	return ch.Method != ChangeDelete && len(ch.Data) == 0
}

// Params builds the JSON-RPC params of the change for one object and
// category.
func (ch Change) Params(objectID int64, categoryConst string) map[string]any {
	params := map[string]any{
		"objID":    objectID,
		"category": categoryConst,
	}
	switch ch.Method {
	case ChangeDelete:
		params["id"] = ch.RecordID
	case ChangeUpdate:
		data := make(map[string]any, len(ch.Data)+1)
		for k, v := range ch.Data {
			data[k] = v
		}
		data["id"] = ch.RecordID
		params["data"] = data
	default:
		params["data"] = ch.Data
	}
	return params
}

// acknowledge applies a confirmed change to its source. createdID is the
// record id the server assigned to a created record.
func (ch Change) acknowledge(createdID int64) {
	switch ch.Method {
	case ChangeCreate:
		if ch.item != nil {
			if createdID != 0 {
				ch.item.recordID = createdID
			}
			ch.item.MarkUnchanged()
		}
	case ChangeUpdate:
		if ch.item != nil {
			ch.item.MarkUnchanged()
		}
	case ChangeDelete:
		if ch.list != nil {
			ch.list.forgetDeleted(ch.item)
		}
	}
}
