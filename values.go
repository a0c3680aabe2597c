// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/gjson"
)

// CategoryValues holds the typed values of one category record together
// with a dirty bit per field.
//
// Every field of the category always has a value; unset fields hold nil, or
// an empty slice for list types. A field becomes dirty when it is set to a
// value different from its current one.
//
// CategoryValues is not safe for concurrent use.
type CategoryValues struct {
	category *Category
	recordID int64
	values   map[string]any
	dirty    map[string]bool
}

// NewCategoryValues creates an empty, unpersisted record of a category.
func NewCategoryValues(category *Category) *CategoryValues {
	v := &CategoryValues{
		category: category,
		values:   make(map[string]any, len(category.Fields)),
		dirty:    make(map[string]bool, len(category.Fields)),
	}
	for _, f := range category.Fields {
		v.values[f.Key] = f.Type.Zero()
	}
	return v
}

// Category returns the category schema of the record.
func (v *CategoryValues) Category() *Category {
	return v.category
}

// RecordID returns the server side record id, 0 if not persisted yet.
func (v *CategoryValues) RecordID() int64 {
	return v.recordID
}

// Get returns the typed value of a field.
func (v *CategoryValues) Get(key string) (any, error) {
	if !v.category.HasField(key) {
		return nil, &UnknownFieldError{Category: v.category.Const, Field: key}
	}
	return v.values[key], nil
}

// String returns a text field, or "" if the field is unset, unknown or not
// text.
func (v *CategoryValues) String(key string) string {
	s, _ := v.values[key].(string)
	return s
}

// Int returns an int or dialog field and whether it is set.
func (v *CategoryValues) Int(key string) (int64, bool) {
	n, ok := v.values[key].(int64)
	return n, ok
}

// Float returns a double or money field and whether it is set.
func (v *CategoryValues) Float(key string) (float64, bool) {
	f, ok := v.values[key].(float64)
	return f, ok
}

// Time returns a date or datetime field and whether it is set.
func (v *CategoryValues) Time(key string) (time.Time, bool) {
	t, ok := v.values[key].(time.Time)
	return t, ok
}

// Set assigns a field. The value must match the field's type; Go numeric
// types are normalized (int to int64, float32 to float64). A mismatch fails
// with *TypeCheckError and leaves the record untouched. Assigning the
// current value keeps the field clean.
func (v *CategoryValues) Set(key string, value any) error {
	n, err := v.check(key, value)
	if err != nil {
		return err
	}
	v.assign(key, n)
	return nil
}

// Update sets several fields at once. Nothing is assigned unless every value
// passes its type check.
func (v *CategoryValues) Update(values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	normalized := make(map[string]any, len(values))
	for _, k := range keys {
		n, err := v.check(k, values[k])
		if err != nil {
			return err
		}
		normalized[k] = n
	}
	for _, k := range keys {
		v.assign(k, normalized[k])
	}
	return nil
}

func (v *CategoryValues) check(key string, value any) (any, error) {
	field, ok := v.category.Field(key)
	if !ok {
		return nil, &UnknownFieldError{Category: v.category.Const, Field: key}
	}
	n, ok := Normalize(field.Type, value)
	if !ok {
		return nil, &TypeCheckError{
			Category: v.category.Const,
			Field:    key,
			Expected: field.Type,
			Value:    value,
		}
	}
	return n, nil
}

func (v *CategoryValues) assign(key string, value any) {
	if valuesEqual(v.values[key], value) {
		return
	}
	v.values[key] = value
	v.dirty[key] = true
}

// MarkUnchanged clears the dirty bit of every field.
func (v *CategoryValues) MarkUnchanged() {
	for k := range v.dirty {
		delete(v.dirty, k)
	}
}

// MarkChanged sets the dirty bit of every field, so the next save writes
// the whole record.
func (v *CategoryValues) MarkChanged() {
	for _, f := range v.category.Fields {
		v.dirty[f.Key] = true
	}
}

// MarkFieldChanged sets the dirty bit of one field.
func (v *CategoryValues) MarkFieldChanged(key string) error {
	if !v.category.HasField(key) {
		return &UnknownFieldError{Category: v.category.Const, Field: key}
	}
	v.dirty[key] = true
	return nil
}

// HasChanged reports whether any field is dirty.
func (v *CategoryValues) HasChanged() bool {
	return len(v.dirty) > 0
}

// HasFieldChanged reports whether the field is dirty.
func (v *CategoryValues) HasFieldChanged(key string) bool {
	return v.dirty[key]
}

// ChangeSet returns the write that persists the dirty fields: a create for
// unpersisted records, an update otherwise. Data is empty if nothing is
// dirty.
func (v *CategoryValues) ChangeSet() Change {
	ch := Change{Method: ChangeUpdate, RecordID: v.recordID, Data: map[string]any{}, item: v}
	if v.recordID == 0 {
		ch.Method = ChangeCreate
	}
	for _, f := range v.category.Fields {
		if v.dirty[f.Key] {
			ch.Data[f.Key] = ToWire(f.Type, v.values[f.Key])
		}
	}
	return ch
}

// Map returns a copy of the typed values.
func (v *CategoryValues) Map() map[string]any {
	out := make(map[string]any, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// MarshalJSON renders the record with its id and wire form values.
func (v *CategoryValues) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(v.values)+1)
	for _, f := range v.category.Fields {
		out[f.Key] = ToWire(f.Type, v.values[f.Key])
	}
	if v.recordID != 0 {
		out["id"] = v.recordID
	}
	return json.Marshal(out)
}

// fill replaces all values from one record of a cmdb.category answer and
// marks every field clean. Fields missing from the record become unset.
func (v *CategoryValues) fill(record gjson.Result) error {
	values := make(map[string]any, len(v.category.Fields))
	for _, f := range v.category.Fields {
		raw := record.Get(escapePathSegment(f.Key))
		typed, err := FromWire(f.Type, raw)
		if err != nil {
			return &ConversionError{
				Category: v.category.Const,
				Field:    f.Key,
				Type:     f.Type,
				Raw:      raw.Raw,
				Err:      err,
			}
		}
		values[f.Key] = typed
	}

	id := record.Get("id")
	if id.Exists() {
		rid, err := wireToInt(id)
		if err != nil {
			return fmt.Errorf("category %s: invalid record id %s", v.category.Const, id.Raw)
		}
		if n, ok := rid.(int64); ok {
			v.recordID = n
		}
	}
	v.values = values
	v.MarkUnchanged()
	return nil
}
