// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
)

// Object is a CMDB object with lazily loaded category data.
//
// The categories of an object are fixed by its type. Category data of a
// persisted object is fetched on first access; Save writes only what
// changed, and only for categories that were fetched (or every category of
// a new object).
//
// Object is not safe for concurrent use.
type Object struct {
	client *Client
	typ    *Type

	id     int64
	sysID  string
	title  string
	status int64
	dirty  bool

	single  map[string]*CategoryValues
	lists   map[string]*CategoryValuesList
	fetched map[string]bool
}

// SaveResult reports what Object.Save did.
type SaveResult struct {
	// ObjectID is the object's id after the save
	ObjectID int64

	// Created is true if the object itself was created
	Created bool

	// Submitted is the number of category writes sent
	Submitted int

	// Confirmed is the number of category writes the server accepted
	Confirmed int

	// Failed lists the category writes that did not succeed
	Failed []FailedChange
}

// FailedChange is a category write the server did not confirm.
type FailedChange struct {
	Category string
	Change   Change

	// Err is the server's error, nil if no answer was received
	Err *RPCError
}

func newObject(c *Client, t *Type) *Object {
	o := &Object{
		client:  c,
		typ:     t,
		single:  make(map[string]*CategoryValues),
		lists:   make(map[string]*CategoryValuesList),
		fetched: make(map[string]bool),
	}
	for _, inc := range t.Categories {
		if inc.MultiValue {
			o.lists[inc.Category.Const] = NewCategoryValuesList(inc.Category)
		} else {
			o.single[inc.Category.Const] = NewCategoryValues(inc.Category)
		}
	}
	return o
}

// NewObject creates an unsaved object of the given type (numeric id or
// constant). Set a title and category values, then call Save.
//
// Example:
//
//	person, err := client.NewObject(ctx, "C__OBJTYPE__PERSON")
//	if err != nil {
//	    return err
//	}
//	person.SetTitle("Ada Lovelace")
//	data, _ := person.Values(ctx, "C__CATS__PERSON")
//	_ = data.Set("mail", "ada@example.com")
//	_, err = person.Save(ctx)
func (c *Client) NewObject(ctx context.Context, typeIDOrConst string) (*Object, error) {
	t, err := c.GetType(ctx, typeIDOrConst)
	if err != nil {
		return nil, err
	}
	o := newObject(c, t)
	o.dirty = true
	return o, nil
}

// LoadObject loads the object with the given id. No category data is
// fetched until it is accessed.
func (c *Client) LoadObject(ctx context.Context, id int64) (*Object, error) {
	res, err := c.Call(ctx, MethodObjects, map[string]any{
		"filter": map[string]any{"ids": []int64{id}},
	})
	if err != nil {
		return nil, err
	}
	rows := res.Value().Array()
	if len(rows) == 0 {
		return nil, &ObjectNotFoundError{ID: id}
	}
	return c.objectFromRow(ctx, rows[0])
}

func (c *Client) objectFromRow(ctx context.Context, row gjson.Result) (*Object, error) {
	t, err := c.GetType(ctx, row.Get("type").String())
	if err != nil {
		return nil, err
	}
	o := newObject(c, t)
	o.id = row.Get("id").Int()
	o.sysID = row.Get("sysid").String()
	o.title = row.Get("title").String()
	o.status = row.Get("status").Int()
	return o, nil
}

// ID returns the object id, 0 for unsaved objects.
func (o *Object) ID() int64 { return o.id }

// SysID returns the SYSID of the object.
func (o *Object) SysID() string { return o.sysID }

// Title returns the object title.
func (o *Object) Title() string { return o.title }

// Status returns the record status of the object.
func (o *Object) Status() int64 { return o.status }

// Type returns the object type.
func (o *Object) Type() *Type { return o.typ }

// IsNew reports whether the object has not been saved yet.
func (o *Object) IsNew() bool { return o.id == 0 }

// SetTitle changes the object title.
func (o *Object) SetTitle(title string) {
	if title != o.title {
		o.title = title
		o.dirty = true
	}
}

// HasChanged reports whether the object's own attributes need saving.
// Category data is tracked separately.
func (o *Object) HasChanged() bool {
	return o.dirty
}

// Fetched reports whether the data of a category has been loaded.
func (o *Object) Fetched(categoryConst string) bool {
	return o.fetched[categoryConst]
}

func (o *Object) inclusion(categoryConst string) (*CategoryInclusion, error) {
	inc, ok := o.typ.Inclusion(categoryConst)
	if !ok {
		return nil, &UnknownCategoryError{Type: o.typ.Const, Category: categoryConst}
	}
	return inc, nil
}

// Values returns the data of a single-value category, fetching it first if
// the object is persisted and the category was not loaded yet.
func (o *Object) Values(ctx context.Context, categoryConst string) (*CategoryValues, error) {
	inc, err := o.inclusion(categoryConst)
	if err != nil {
		return nil, err
	}
	if inc.MultiValue {
		return nil, &UnknownCategoryError{Type: o.typ.Const, Category: categoryConst, Reason: "multi-value category, use List"}
	}
	if err := o.ensureFetched(ctx, categoryConst); err != nil {
		return nil, err
	}
	return o.single[categoryConst], nil
}

// List returns the records of a multi-value category, fetching them first
// if the object is persisted and the category was not loaded yet.
func (o *Object) List(ctx context.Context, categoryConst string) (*CategoryValuesList, error) {
	inc, err := o.inclusion(categoryConst)
	if err != nil {
		return nil, err
	}
	if !inc.MultiValue {
		return nil, &UnknownCategoryError{Type: o.typ.Const, Category: categoryConst, Reason: "single-value category, use Values"}
	}
	if err := o.ensureFetched(ctx, categoryConst); err != nil {
		return nil, err
	}
	return o.lists[categoryConst], nil
}

func (o *Object) ensureFetched(ctx context.Context, categoryConst string) error {
	if o.id == 0 || o.fetched[categoryConst] {
		return nil
	}
	return o.LoadCategory(ctx, categoryConst)
}

// LoadCategory (re)loads the data of one category. Local changes to that
// category are discarded.
func (o *Object) LoadCategory(ctx context.Context, categoryConst string) error {
	if _, err := o.inclusion(categoryConst); err != nil {
		return err
	}
	if o.id == 0 {
		return fmt.Errorf("object of type %s is not saved yet", o.typ.Const)
	}
	res, err := o.client.Call(ctx, MethodCategoryRead, categoryReadParams(o.id, categoryConst))
	if err != nil {
		return err
	}
	return o.fillCategory(ctx, categoryConst, res.Value())
}

// LoadAllCategories loads the data of every category of the object in one
// batch.
//
// With the default error policy the first failing read is returned after
// all successful reads have been applied; with OnError(ErrorPolicyCollect)
// failed categories are logged and stay unfetched.
func (o *Object) LoadAllCategories(ctx context.Context, mods ...func(*Req)) error {
	if o.id == 0 {
		return fmt.Errorf("object of type %s is not saved yet", o.typ.Const)
	}
	requests := make(map[string]Request, len(o.typ.Categories))
	for _, inc := range o.typ.Categories {
		requests[inc.Category.Const] = Request{
			Method: MethodCategoryRead,
			Params: categoryReadParams(o.id, inc.Category.Const),
		}
	}

	res, batchErr := o.client.BatchCall(ctx, requests, mods...)
	if res == nil {
		return batchErr
	}
	for _, inc := range o.typ.Categories {
		categoryConst := inc.Category.Const
		r, ok := res[categoryConst]
		if !ok || r.Err != nil {
			if ok {
				o.client.logger.Warn(ctx, "category read failed",
					"object", o.id,
					"category", categoryConst,
					"error", r.Err.Message)
			}
			continue
		}
		if err := o.fillCategory(ctx, categoryConst, r.Value()); err != nil {
			return err
		}
	}
	return batchErr
}

func categoryReadParams(objectID int64, categoryConst string) map[string]any {
	return map[string]any{"objID": objectID, "category": categoryConst}
}

// fillCategory applies a cmdb.category answer to the object.
func (o *Object) fillCategory(ctx context.Context, categoryConst string, raw gjson.Result) error {
	inc, err := o.inclusion(categoryConst)
	if err != nil {
		return err
	}

	var records []gjson.Result
	switch {
	case raw.IsArray():
		records = raw.Array()
	case raw.IsObject():
		records = []gjson.Result{raw}
	}

	if inc.MultiValue {
		err = o.lists[categoryConst].fill(records)
	} else {
		vals := NewCategoryValues(inc.Category)
		if len(records) > 1 {
			o.client.logger.Warn(ctx, "single-value category returned several records, using the first",
				"object", o.id,
				"category", categoryConst,
				"records", len(records))
		}
		if len(records) > 0 {
			err = vals.fill(records[0])
		}
		if err == nil {
			*o.single[categoryConst] = *vals
		}
	}

	if err != nil {
		var convErr *ConversionError
		if errors.As(err, &convErr) {
			o.client.logger.Error(ctx, convErr.Diagnostic(),
				"object", o.id,
				"category", convErr.Category,
				"field", convErr.Field,
				"type", convErr.Type.String(),
				"raw", truncateRaw(convErr.Raw))
		}
		return err
	}

	o.fetched[categoryConst] = true
	return nil
}

// Save persists the object.
//
// A new object, or one whose title changed, is created or updated first in
// a call of its own. Then every fetched category (every category of a new
// object) contributes its changeset; read-only categories and empty
// changesets are skipped. All category writes go out as one batch.
//
// Dirty flags are cleared, record ids assigned and deletes forgotten only
// for writes the server confirmed. With the default error policy the first
// failing write is returned as *RPCError; with OnError(ErrorPolicyCollect)
// failures are only listed in SaveResult.Failed. Transport errors abort the
// save and leave all flags untouched.
func (o *Object) Save(ctx context.Context, mods ...func(*Req)) (SaveResult, error) {
	c := o.client
	created := o.id == 0
	result := SaveResult{ObjectID: o.id}

	if o.dirty || created {
		if err := o.saveObject(ctx, mods); err != nil {
			return result, err
		}
		result.ObjectID = o.id
		result.Created = created
	}

	type pending struct {
		category string
		change   Change
	}
	requests := make(map[string]Request)
	changes := make(map[string]pending)
	for _, inc := range o.typ.Categories {
		categoryConst := inc.Category.Const
		if c.isReadOnly(categoryConst) {
			continue
		}
		if !o.fetched[categoryConst] {
			continue
		}

		var set []Change
		if inc.MultiValue {
			set = o.lists[categoryConst].ChangeSet()
		} else if ch := o.single[categoryConst].ChangeSet(); !ch.Empty() {
			set = []Change{ch}
		}
		for _, ch := range set {
			id := fmt.Sprintf("%05d:%s", len(requests), categoryConst)
			requests[id] = Request{Method: ch.Method.RPCMethod(), Params: ch.Params(o.id, categoryConst)}
			changes[id] = pending{category: categoryConst, change: ch}
		}
	}

	if len(requests) == 0 {
		c.logger.Debug(ctx, "nothing to save",
			"object", o.id)
		return result, nil
	}

	c.logger.Debug(ctx, "saving category changes",
		"object", o.id,
		"writes", len(requests))
	res, err := c.BatchCall(ctx, requests, mods...)
	if res == nil {
		return result, err
	}

	ids := make([]string, 0, len(changes))
	for id := range changes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result.Submitted = len(ids)
	for _, id := range ids {
		p := changes[id]
		r, ok := res[id]
		if !ok || r.Err != nil {
			result.Failed = append(result.Failed, FailedChange{Category: p.category, Change: p.change, Err: r.Err})
			continue
		}
		p.change.acknowledge(r.GetValue("id").Int())
		result.Confirmed++
	}

	if len(result.Failed) > 0 {
		c.logger.Warn(ctx, "some category changes were not saved",
			"object", o.id,
			"failed", len(result.Failed),
			"confirmed", result.Confirmed)
	}
	return result, err
}

func (o *Object) saveObject(ctx context.Context, mods []func(*Req)) error {
	if o.id == 0 {
		res, err := o.client.Call(ctx, MethodObjectCreate, map[string]any{
			"type":  o.typ.ID,
			"title": o.title,
		}, mods...)
		if err != nil {
			return err
		}
		id := res.GetValue("id").Int()
		if id == 0 {
			return fmt.Errorf("%s returned no object id", MethodObjectCreate)
		}
		o.id = id
		o.dirty = false
		// the client holds the whole state of a created object
		for _, inc := range o.typ.Categories {
			o.fetched[inc.Category.Const] = true
		}
		o.client.logger.Info(ctx, "object created",
			"object", o.id,
			"type", o.typ.Const)
		return nil
	}

	if _, err := o.client.Call(ctx, MethodObjectUpdate, map[string]any{
		"id":    o.id,
		"title": o.title,
	}, mods...); err != nil {
		return err
	}
	o.dirty = false
	return nil
}

// MarshalJSON renders the object with the data of its fetched categories.
func (o *Object) MarshalJSON() ([]byte, error) {
	categories := make(map[string]any)
	for _, inc := range o.typ.Categories {
		categoryConst := inc.Category.Const
		if !o.fetched[categoryConst] {
			continue
		}
		if inc.MultiValue {
			categories[categoryConst] = o.lists[categoryConst]
		} else {
			categories[categoryConst] = o.single[categoryConst]
		}
	}
	return json.Marshal(map[string]any{
		"id":         o.id,
		"sysid":      o.sysID,
		"title":      o.title,
		"type":       o.typ.Const,
		"categories": categories,
	})
}
