// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// CategoryKind tells global, specific and custom categories apart.
type CategoryKind int

const (
	// CategoryGlobal categories (C__CATG__*) can be part of many types
	CategoryGlobal CategoryKind = iota + 1

	// CategorySpecific categories (C__CATS__*) belong to few types
	CategorySpecific

	// CategoryCustom categories are defined per i-doit instance
	CategoryCustom
)

// String returns the kind name
func (k CategoryKind) String() string {
	switch k {
	case CategoryGlobal:
		return "global"
	case CategorySpecific:
		return "specific"
	case CategoryCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Field describes one attribute of a category.
type Field struct {
	Key      string
	Title    string
	DataType string
	InfoType string

	// Type is the typed representation, fixed when the category is loaded
	Type AttributeType
}

// Category is the schema of a category: its identity and ordered fields.
// Categories are cached per client and never modified after load.
type Category struct {
	ID     int64
	Const  string
	Kind   CategoryKind
	Fields []*Field

	byKey map[string]*Field
}

// Field returns the field with the given key.
func (c *Category) Field(key string) (*Field, bool) {
	f, ok := c.byKey[key]
	return f, ok
}

// HasField reports whether the category defines key.
func (c *Category) HasField(key string) bool {
	_, ok := c.byKey[key]
	return ok
}

// Keys returns the field keys in schema order.
func (c *Category) Keys() []string {
	keys := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		keys[i] = f.Key
	}
	return keys
}

// IsPlaceholder reports whether the category is an empty stand-in for a
// category that has no id to load it by.
func (c *Category) IsPlaceholder() bool {
	return c.ID == 0 && len(c.Fields) == 0
}

// CategoryRef identifies a category to resolve. Const is required; ID and
// Kind are needed to load a category that is not cached yet.
type CategoryRef struct {
	Const string
	ID    int64
	Kind  CategoryKind
}

func (r CategoryRef) infoParams() map[string]any {
	switch r.Kind {
	case CategoryGlobal:
		return map[string]any{"catgID": r.ID}
	case CategoryCustom:
		return map[string]any{"category": r.Const}
	default:
		return map[string]any{"catsID": r.ID}
	}
}

func newPlaceholderCategory(categoryConst string) *Category {
	return &Category{Const: categoryConst, Kind: CategoryCustom, byKey: map[string]*Field{}}
}

// GetCategory resolves a category.
//
// A cached category is returned as is, the very same instance on every call.
// A category known to be unresolvable fails with *UnsupportedCategoryError
// without network traffic. Otherwise, if ref.ID is set, the schema is
// fetched with cmdb.category_info and cached. Without an id an empty custom
// placeholder is returned and not cached.
//
// Concurrent first lookups of the same category share one fetch.
//
// Example:
//
//	cat, err := client.GetCategory(ctx, idoit.CategoryRef{
//	    Const: "C__CATS__PERSON", ID: 48, Kind: idoit.CategorySpecific,
//	})
func (c *Client) GetCategory(ctx context.Context, ref CategoryRef) (*Category, error) {
	if ref.Const == "" {
		return nil, fmt.Errorf("category constant cannot be empty")
	}

	for {
		if cat, err, ok := c.schema.lookupCategory(ref.Const); ok {
			return cat, err
		}
		if ref.ID == 0 {
			return newPlaceholderCategory(ref.Const), nil
		}

		mine, waits, gen := c.schema.claim([]string{ref.Const})
		if len(mine) == 0 {
			if err := wait(ctx, waits); err != nil {
				return nil, err
			}
			continue
		}

		cat, err := c.loadCategory(ctx, ref, gen)
		c.schema.release(mine)
		return cat, err
	}
}

func (c *Client) loadCategory(ctx context.Context, ref CategoryRef, gen uint64) (*Category, error) {
	rules, err := c.RuleTable(ctx)
	if err != nil {
		return nil, err
	}

	c.metrics.SchemaFetches.WithLabelValues("category").Inc()
	res, err := c.Call(ctx, MethodCategoryInfo, ref.infoParams())
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			c.schema.markUnresolvable(gen, ref.Const, rpcErr)
			c.logger.Warn(ctx, "category cannot be handled by the API",
				"category", ref.Const,
				"error", rpcErr.Message)
			return nil, &UnsupportedCategoryError{Category: ref.Const, Err: rpcErr}
		}
		return nil, err
	}

	cat := c.buildCategory(ctx, ref, res.Value(), rules)
	c.schema.storeCategory(gen, cat)
	c.logger.Debug(ctx, "category cached",
		"category", cat.Const,
		"kind", cat.Kind.String(),
		"fields", len(cat.Fields))
	return cat, nil
}

// CategoryByID returns a cached category by kind and numeric id. Global and
// specific categories have separate id spaces.
func (c *Client) CategoryByID(kind CategoryKind, id int64) (*Category, bool) {
	return c.schema.categoryByID(kind, id)
}

// FetchCategories resolves many categories with a single batch for all
// cache misses.
//
// Categories the API rejects are remembered as unresolvable and left out of
// the result; everything else is returned in input order. References without
// an id that are not cached yield placeholders, as with GetCategory.
func (c *Client) FetchCategories(ctx context.Context, refs []CategoryRef) ([]*Category, error) {
	byConst := make(map[string]CategoryRef, len(refs))
	var consts []string
	for _, ref := range refs {
		if ref.Const == "" {
			return nil, fmt.Errorf("category constant cannot be empty")
		}
		if _, dup := byConst[ref.Const]; dup {
			continue
		}
		byConst[ref.Const] = ref
		if ref.ID != 0 {
			consts = append(consts, ref.Const)
		}
	}

	mine, waits, gen := c.schema.claim(consts)
	if len(mine) > 0 {
		err := c.fetchCategoryBatch(ctx, mine, byConst, gen)
		c.schema.release(mine)
		if err != nil {
			return nil, err
		}
	}
	if err := wait(ctx, waits); err != nil {
		return nil, err
	}

	out := make([]*Category, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if seen[ref.Const] {
			continue
		}
		seen[ref.Const] = true

		cat, err, ok := c.schema.lookupCategory(ref.Const)
		switch {
		case ok && err != nil:
			continue
		case ok:
			out = append(out, cat)
		default:
			// lost to a concurrent load that failed, or a reset
			cat, err := c.GetCategory(ctx, ref)
			if IsUnsupportedCategory(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, cat)
		}
	}
	return out, nil
}

func (c *Client) fetchCategoryBatch(ctx context.Context, consts []string, refs map[string]CategoryRef, gen uint64) error {
	rules, err := c.RuleTable(ctx)
	if err != nil {
		return err
	}

	params := make(map[string]any, len(consts))
	for _, categoryConst := range consts {
		params[categoryConst] = refs[categoryConst].infoParams()
	}

	c.metrics.SchemaFetches.WithLabelValues("category").Add(float64(len(consts)))
	c.logger.Debug(ctx, "fetching categories",
		"count", len(consts))

	res, err := c.BatchCallMethod(ctx, MethodCategoryInfo, params, OnError(ErrorPolicyCollect))
	if err != nil {
		return err
	}

	for _, categoryConst := range consts {
		r, ok := res[categoryConst]
		switch {
		case !ok:
			c.logger.Warn(ctx, "no schema received for category",
				"category", categoryConst)
		case r.Err != nil:
			c.schema.markUnresolvable(gen, categoryConst, r.Err)
			c.logger.Warn(ctx, "category cannot be handled by the API, ignoring",
				"category", categoryConst,
				"error", r.Err.Message)
		default:
			cat := c.buildCategory(ctx, refs[categoryConst], r.Value(), rules)
			c.schema.storeCategory(gen, cat)
		}
	}
	return nil
}

// buildCategory turns a cmdb.category_info answer into a Category. Fields
// without a typed representation are dropped with a warning.
func (c *Client) buildCategory(ctx context.Context, ref CategoryRef, info gjson.Result, rules *RuleTable) *Category {
	kind := ref.Kind
	if kind == 0 {
		kind = CategorySpecific
	}
	cat := &Category{ID: ref.ID, Const: ref.Const, Kind: kind, byKey: map[string]*Field{}}
	if !info.IsObject() {
		return cat
	}

	info.ForEach(func(key, value gjson.Result) bool {
		field := &Field{
			Key:      key.String(),
			Title:    value.Get("title").String(),
			DataType: value.Get("data.type").String(),
			InfoType: value.Get("info.type").String(),
		}
		typ, err := DetermineType(rules, cat.Const, field.Key, field.DataType, field.InfoType)
		if err != nil {
			c.logger.Warn(ctx, "ignoring field without type information",
				"category", cat.Const,
				"field", field.Key,
				"error", err.Error())
			return true
		}
		field.Type = typ
		cat.Fields = append(cat.Fields, field)
		cat.byKey[field.Key] = field
		return true
	})
	return cat
}
