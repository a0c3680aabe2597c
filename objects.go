// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"strconv"
)

// ObjectCollection is an ordered list of objects returned by ListObjects.
type ObjectCollection struct {
	client  *Client
	objects []*Object
}

// ListObjects lists the objects matching filter, passed as is to
// cmdb.objects (e.g. {"type": "C__OBJTYPE__PERSON"}). A nil filter lists
// every object.
//
// Example:
//
//	persons, err := client.ListObjects(ctx, map[string]any{"type": "C__OBJTYPE__PERSON"})
//	if err != nil {
//	    return err
//	}
//	if err := persons.LoadCategory(ctx, "C__CATS__PERSON"); err != nil {
//	    return err
//	}
func (c *Client) ListObjects(ctx context.Context, filter map[string]any) (*ObjectCollection, error) {
	if filter == nil {
		filter = map[string]any{}
	}
	res, err := c.Call(ctx, MethodObjects, map[string]any{"filter": filter})
	if err != nil {
		return nil, err
	}

	rows := res.Value().Array()
	col := &ObjectCollection{client: c, objects: make([]*Object, 0, len(rows))}
	for _, row := range rows {
		o, err := c.objectFromRow(ctx, row)
		if err != nil {
			return nil, err
		}
		col.objects = append(col.objects, o)
	}
	c.logger.Debug(ctx, "objects listed",
		"count", len(col.objects))
	return col, nil
}

// Len returns the number of objects.
func (oc *ObjectCollection) Len() int {
	return len(oc.objects)
}

// At returns the i-th object.
func (oc *ObjectCollection) At(i int) *Object {
	return oc.objects[i]
}

// Objects returns the objects in order.
func (oc *ObjectCollection) Objects() []*Object {
	return append([]*Object(nil), oc.objects...)
}

// FindByID returns the object with the given id, or nil.
func (oc *ObjectCollection) FindByID(id int64) *Object {
	for _, o := range oc.objects {
		if o.id == id {
			return o
		}
	}
	return nil
}

// FindByField returns the first object whose category field equals value.
// For multi-value categories any record may match. Objects whose type lacks
// the category are skipped; category data is fetched as needed.
func (oc *ObjectCollection) FindByField(ctx context.Context, categoryConst, key string, value any) (*Object, error) {
	for _, o := range oc.objects {
		inc, ok := o.typ.Inclusion(categoryConst)
		if !ok {
			continue
		}
		field, ok := inc.Category.Field(key)
		if !ok {
			return nil, &UnknownFieldError{Category: categoryConst, Field: key}
		}
		want, ok := Normalize(field.Type, value)
		if !ok {
			return nil, &TypeCheckError{Category: categoryConst, Field: key, Expected: field.Type, Value: value}
		}

		if inc.MultiValue {
			list, err := o.List(ctx, categoryConst)
			if err != nil {
				return nil, err
			}
			for _, item := range list.items {
				if valuesEqual(item.values[key], want) {
					return o, nil
				}
			}
			continue
		}

		vals, err := o.Values(ctx, categoryConst)
		if err != nil {
			return nil, err
		}
		if valuesEqual(vals.values[key], want) {
			return o, nil
		}
	}
	return nil, nil
}

// LoadCategory fetches one category for every object whose type includes it,
// in a single batch (split only by the batch size limit).
//
// With the default error policy the first failing read is returned after
// the successful reads have been applied.
func (oc *ObjectCollection) LoadCategory(ctx context.Context, categoryConst string, mods ...func(*Req)) error {
	requests := make(map[string]Request)
	targets := make(map[string]*Object)
	for _, o := range oc.objects {
		if _, ok := o.typ.Inclusion(categoryConst); !ok || o.id == 0 {
			continue
		}
		id := strconv.FormatInt(o.id, 10)
		requests[id] = Request{Method: MethodCategoryRead, Params: categoryReadParams(o.id, categoryConst)}
		targets[id] = o
	}
	return oc.load(ctx, requests, targets, func(string) string { return categoryConst }, mods)
}

// LoadAllCategories fetches every category of every object in a single
// batch (split only by the batch size limit).
func (oc *ObjectCollection) LoadAllCategories(ctx context.Context, mods ...func(*Req)) error {
	requests := make(map[string]Request)
	targets := make(map[string]*Object)
	consts := make(map[string]string)
	for _, o := range oc.objects {
		if o.id == 0 {
			continue
		}
		for _, inc := range o.typ.Categories {
			id := strconv.FormatInt(o.id, 10) + "/" + inc.Category.Const
			requests[id] = Request{Method: MethodCategoryRead, Params: categoryReadParams(o.id, inc.Category.Const)}
			targets[id] = o
			consts[id] = inc.Category.Const
		}
	}
	return oc.load(ctx, requests, targets, func(id string) string { return consts[id] }, mods)
}

func (oc *ObjectCollection) load(ctx context.Context, requests map[string]Request, targets map[string]*Object, categoryOf func(string) string, mods []func(*Req)) error {
	if len(requests) == 0 {
		return nil
	}
	res, batchErr := oc.client.BatchCall(ctx, requests, mods...)
	if res == nil {
		return batchErr
	}
	for _, id := range res.IDs() {
		r := res[id]
		o, ok := targets[id]
		if !ok {
			continue
		}
		if r.Err != nil {
			oc.client.logger.Warn(ctx, "category read failed",
				"object", o.id,
				"category", categoryOf(id),
				"error", r.Err.Message)
			continue
		}
		if err := o.fillCategory(ctx, categoryOf(id), r.Value()); err != nil {
			return err
		}
	}
	return batchErr
}
