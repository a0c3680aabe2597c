// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// TypeGroup is the navigation group an object type belongs to.
type TypeGroup struct {
	Const     string
	Title     string
	TreeGroup string
}

// TypeSummary is one row of cmdb.object_types.
type TypeSummary struct {
	ID     int64
	Const  string
	Title  string
	Status int64
	Group  TypeGroup
}

// CategoryInclusion records how a category is part of a type.
type CategoryInclusion struct {
	Category    *Category
	Kind        CategoryKind
	MultiValue  bool
	ParentID    int64
	SourceTable string
}

// Type is an object type with its ordered category inclusions. Types are
// cached per client and never modified after load.
type Type struct {
	TypeSummary

	Categories []*CategoryInclusion

	byConst map[string]*CategoryInclusion
}

// Inclusion returns how the category with the given constant is part of the
// type.
func (t *Type) Inclusion(categoryConst string) (*CategoryInclusion, bool) {
	inc, ok := t.byConst[categoryConst]
	return inc, ok
}

// CategoryConsts returns the constants of all included categories in order.
func (t *Type) CategoryConsts() []string {
	out := make([]string, len(t.Categories))
	for i, inc := range t.Categories {
		out[i] = inc.Category.Const
	}
	return out
}

func parseTypeSummary(row gjson.Result) TypeSummary {
	return TypeSummary{
		ID:     row.Get("id").Int(),
		Const:  row.Get("const").String(),
		Title:  row.Get("title").String(),
		Status: row.Get("status").Int(),
		Group: TypeGroup{
			Const:     row.Get("type_group").String(),
			Title:     row.Get("type_group_title").String(),
			TreeGroup: row.Get("tree_group").String(),
		},
	}
}

// ListTypes lists all object types known to the server.
func (c *Client) ListTypes(ctx context.Context) ([]TypeSummary, error) {
	res, err := c.Call(ctx, MethodObjectTypes, nil)
	if err != nil {
		return nil, err
	}
	rows := res.Value().Array()
	out := make([]TypeSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, parseTypeSummary(row))
	}
	return out, nil
}

// GetType resolves an object type by numeric id ("59") or constant
// ("C__OBJTYPE__PERSON").
//
// On a miss the type row and its category list are fetched, then the schema
// of every included category is resolved with FetchCategories in one batch.
// Categories the API cannot handle are left out with a warning. An unknown
// type fails with *UnknownTypeError.
//
// Example:
//
//	person, err := client.GetType(ctx, "C__OBJTYPE__PERSON")
//	if err != nil {
//	    return err
//	}
//	for _, inc := range person.Categories {
//	    fmt.Println(inc.Category.Const, inc.MultiValue)
//	}
func (c *Client) GetType(ctx context.Context, idOrConst string) (*Type, error) {
	if idOrConst == "" {
		return nil, fmt.Errorf("type cannot be empty")
	}
	if t, ok := c.schema.lookupType(idOrConst); ok {
		return t, nil
	}

	key, gen := c.schema.flightKey("type:" + idOrConst)
	v, err := c.schema.do(ctx, key, func(ctx context.Context) (any, error) {
		return c.loadType(ctx, idOrConst, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Type), nil
}

func (c *Client) loadType(ctx context.Context, idOrConst string, gen uint64) (*Type, error) {
	filter := map[string]any{"const": idOrConst}
	if id, err := strconv.ParseInt(idOrConst, 10, 64); err == nil {
		filter = map[string]any{"id": id}
	}

	c.metrics.SchemaFetches.WithLabelValues("type").Inc()
	res, err := c.Call(ctx, MethodObjectTypes, map[string]any{"filter": filter})
	if err != nil {
		return nil, err
	}
	rows := res.Value().Array()
	if len(rows) == 0 {
		return nil, &UnknownTypeError{Type: idOrConst}
	}

	t := &Type{TypeSummary: parseTypeSummary(rows[0]), byConst: map[string]*CategoryInclusion{}}
	c.logger.Debug(ctx, "loading type",
		"type", t.Const,
		"id", t.ID)

	res, err = c.Call(ctx, MethodObjectTypeCategories, map[string]any{"type": t.ID})
	if err != nil {
		return nil, err
	}

	type entry struct {
		ref         CategoryRef
		multiValue  bool
		parentID    int64
		sourceTable string
	}
	var entries []entry
	for _, group := range []struct {
		key  string
		kind CategoryKind
	}{
		{"catg", CategoryGlobal},
		{"cats", CategorySpecific},
		{"custom", CategoryCustom},
	} {
		for _, row := range res.GetValue(group.key).Array() {
			entries = append(entries, entry{
				ref: CategoryRef{
					Const: row.Get("const").String(),
					ID:    row.Get("id").Int(),
					Kind:  group.kind,
				},
				multiValue:  row.Get("multi_value").String() == "1" || row.Get("multi_value").Type == gjson.True,
				parentID:    row.Get("parent").Int(),
				sourceTable: row.Get("source_table").String(),
			})
		}
	}

	refs := make([]CategoryRef, len(entries))
	for i, e := range entries {
		refs[i] = e.ref
	}
	fetched, err := c.FetchCategories(ctx, refs)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]*Category, len(fetched))
	for _, cat := range fetched {
		resolved[cat.Const] = cat
	}

	for _, e := range entries {
		cat, ok := resolved[e.ref.Const]
		if !ok {
			c.logger.Warn(ctx, "category cannot be handled by the API, ignoring",
				"type", t.Const,
				"category", e.ref.Const)
			continue
		}
		if _, dup := t.byConst[cat.Const]; dup {
			continue
		}
		inc := &CategoryInclusion{
			Category:    cat,
			Kind:        e.ref.Kind,
			MultiValue:  e.multiValue,
			ParentID:    e.parentID,
			SourceTable: e.sourceTable,
		}
		t.Categories = append(t.Categories, inc)
		t.byConst[cat.Const] = inc
	}

	if cached := c.schema.storeType(gen, t); cached != t {
		return cached, nil
	}
	c.logger.Info(ctx, "type cached",
		"type", t.Const,
		"categories", len(t.Categories))
	return t, nil
}
