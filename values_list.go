// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// CategoryValuesList holds the records of a multi-value category.
//
// Persisted records removed from the list are kept aside and turn into
// deletes on the next save. Removing a record that was never persisted has
// no effect on the server.
//
// CategoryValuesList is not safe for concurrent use.
type CategoryValuesList struct {
	category *Category
	items    []*CategoryValues
	deleted  []*CategoryValues
}

// NewCategoryValuesList creates an empty list for a category.
func NewCategoryValuesList(category *Category) *CategoryValuesList {
	return &CategoryValuesList{category: category}
}

// Category returns the category schema shared by all records.
func (l *CategoryValuesList) Category() *Category {
	return l.category
}

// Len returns the number of live records.
func (l *CategoryValuesList) Len() int {
	return len(l.items)
}

// At returns the i-th record.
func (l *CategoryValuesList) At(i int) *CategoryValues {
	return l.items[i]
}

// Items returns the live records in order.
func (l *CategoryValuesList) Items() []*CategoryValues {
	return append([]*CategoryValues(nil), l.items...)
}

// Deleted returns the removed persisted records awaiting deletion.
func (l *CategoryValuesList) Deleted() []*CategoryValues {
	return append([]*CategoryValues(nil), l.deleted...)
}

// Append adds a record. It must belong to the list's category. Appending a
// removed persisted record takes it back off the delete list.
func (l *CategoryValuesList) Append(item *CategoryValues) error {
	if err := l.accept(item); err != nil {
		return err
	}
	l.forgetDeleted(item)
	l.items = append(l.items, item)
	return nil
}

// AppendMap adds a new record built from values. Every given field is
// dirty, so the record is created on the next save.
//
// Example:
//
//	contacts, _ := obj.List(ctx, "C__CATG__CONTACT")
//	_, err := contacts.AppendMap(map[string]any{"contact": 42, "role": 3})
func (l *CategoryValuesList) AppendMap(values map[string]any) (*CategoryValues, error) {
	item := NewCategoryValues(l.category)
	if err := item.Update(values); err != nil {
		return nil, err
	}
	l.items = append(l.items, item)
	return item, nil
}

// Set replaces the i-th record. A replaced persisted record is deleted on
// the next save.
func (l *CategoryValuesList) Set(i int, item *CategoryValues) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("index %d out of range [0,%d)", i, len(l.items))
	}
	if err := l.accept(item); err != nil {
		return err
	}
	if old := l.items[i]; old != item {
		l.discard(old)
	}
	l.forgetDeleted(item)
	l.items[i] = item
	return nil
}

// RemoveAt removes the i-th record.
func (l *CategoryValuesList) RemoveAt(i int) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("index %d out of range [0,%d)", i, len(l.items))
	}
	l.discard(l.items[i])
	l.items = append(l.items[:i], l.items[i+1:]...)
	return nil
}

// Remove removes item from the list and reports whether it was present.
func (l *CategoryValuesList) Remove(item *CategoryValues) bool {
	for i, it := range l.items {
		if it == item {
			_ = l.RemoveAt(i)
			return true
		}
	}
	return false
}

func (l *CategoryValuesList) accept(item *CategoryValues) error {
	if item == nil {
		return fmt.Errorf("category %s: nil record", l.category.Const)
	}
	if item.category.Const != l.category.Const {
		return fmt.Errorf("record of category %s cannot be added to %s", item.category.Const, l.category.Const)
	}
	return nil
}

func (l *CategoryValuesList) discard(item *CategoryValues) {
	if item.recordID == 0 {
		return
	}
	for _, d := range l.deleted {
		if d == item {
			return
		}
	}
	l.deleted = append(l.deleted, item)
}

func (l *CategoryValuesList) forgetDeleted(item *CategoryValues) {
	for i, d := range l.deleted {
		if d == item {
			l.deleted = append(l.deleted[:i], l.deleted[i+1:]...)
			return
		}
	}
}

// MarkUnchanged clears the dirty bits of all live records.
func (l *CategoryValuesList) MarkUnchanged() {
	for _, it := range l.items {
		it.MarkUnchanged()
	}
}

// MarkChanged sets the dirty bits of all live records.
func (l *CategoryValuesList) MarkChanged() {
	for _, it := range l.items {
		it.MarkChanged()
	}
}

// HasChanged reports whether any live record has a dirty field. Pending
// deletes are reported by Deleted.
func (l *CategoryValuesList) HasChanged() bool {
	for _, it := range l.items {
		if it.HasChanged() {
			return true
		}
	}
	return false
}

// ChangeSet returns the writes that persist the list: a create or update per
// live record with dirty fields, then a delete per removed persisted record.
func (l *CategoryValuesList) ChangeSet() []Change {
	var out []Change
	for _, it := range l.items {
		if ch := it.ChangeSet(); !ch.Empty() {
			out = append(out, ch)
		}
	}
	for _, d := range l.deleted {
		out = append(out, Change{Method: ChangeDelete, RecordID: d.recordID, item: d, list: l})
	}
	return out
}

// MarshalJSON renders the live records as an array.
func (l *CategoryValuesList) MarshalJSON() ([]byte, error) {
	if l.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.items)
}

// fill replaces the list with the records of a cmdb.category answer. Local
// changes and pending deletes are discarded.
func (l *CategoryValuesList) fill(records []gjson.Result) error {
	items := make([]*CategoryValues, 0, len(records))
	for _, rec := range records {
		item := NewCategoryValues(l.category)
		if err := item.fill(rec); err != nil {
			return err
		}
		items = append(items, item)
	}
	l.items = items
	l.deleted = nil
	return nil
}
