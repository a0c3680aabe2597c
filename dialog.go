// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// DialogEntry is one value of a dialog field.
type DialogEntry struct {
	ID    int64  `json:"id"`
	Const string `json:"const"`
	Title string `json:"title"`
}

// Dialog is the value set of one dialog field, loaded with
// cmdb.dialog.read.
type Dialog struct {
	client   *Client
	category string
	property string

	entries []DialogEntry
	byID    map[int64]int
	byConst map[string]int
}

// LoadDialog loads the entries of a dialog field.
//
// Example:
//
//	roles, err := client.LoadDialog(ctx, "C__CATG__CONTACT", "role")
//	if err != nil {
//	    return err
//	}
//	entry, err := roles.Add(ctx, "Master of Disaster")
func (c *Client) LoadDialog(ctx context.Context, categoryConst, property string) (*Dialog, error) {
	d := &Dialog{client: c, category: categoryConst, property: property}
	if err := d.Reload(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload fetches the entries again.
func (d *Dialog) Reload(ctx context.Context) error {
	res, err := d.client.Call(ctx, MethodDialogRead, map[string]any{
		"category": d.category,
		"property": d.property,
	})
	if err != nil {
		return err
	}

	var rows []gjson.Result
	switch v := res.Value(); {
	case v.IsArray():
		rows = v.Array()
	case v.IsObject():
		v.ForEach(func(_, row gjson.Result) bool {
			rows = append(rows, row)
			return true
		})
	}
	if len(rows) == 0 {
		d.client.logger.Warn(ctx, "dialog has no entries",
			"category", d.category,
			"property", d.property)
	}

	d.entries = d.entries[:0]
	d.byID = make(map[int64]int, len(rows))
	d.byConst = make(map[string]int, len(rows))
	for _, row := range rows {
		d.add(DialogEntry{
			ID:    row.Get("id").Int(),
			Const: row.Get("const").String(),
			Title: row.Get("title").String(),
		})
	}
	return nil
}

func (d *Dialog) add(e DialogEntry) {
	d.entries = append(d.entries, e)
	d.byID[e.ID] = len(d.entries) - 1
	if e.Const != "" {
		d.byConst[e.Const] = len(d.entries) - 1
	}
}

// Category returns the category constant of the dialog field.
func (d *Dialog) Category() string { return d.category }

// Property returns the field key of the dialog field.
func (d *Dialog) Property() string { return d.property }

// Entries returns all entries in server order.
func (d *Dialog) Entries() []DialogEntry {
	return append([]DialogEntry(nil), d.entries...)
}

// ByID returns the entry with the given id.
func (d *Dialog) ByID(id int64) (DialogEntry, bool) {
	i, ok := d.byID[id]
	if !ok {
		return DialogEntry{}, false
	}
	return d.entries[i], true
}

// ByConst returns the entry with the given constant.
func (d *Dialog) ByConst(c string) (DialogEntry, bool) {
	i, ok := d.byConst[c]
	if !ok {
		return DialogEntry{}, false
	}
	return d.entries[i], true
}

// ByTitle returns the first entry with the given title, compared case
// insensitively.
func (d *Dialog) ByTitle(title string) (DialogEntry, bool) {
	for _, e := range d.entries {
		if strings.EqualFold(e.Title, title) {
			return e, true
		}
	}
	return DialogEntry{}, false
}

// Add creates an entry with the given title unless one with that title
// exists already, and returns the entry.
func (d *Dialog) Add(ctx context.Context, title string) (DialogEntry, error) {
	if e, ok := d.ByTitle(title); ok {
		return e, nil
	}
	res, err := d.client.Call(ctx, MethodDialogCreate, map[string]any{
		"category": d.category,
		"property": d.property,
		"value":    title,
	})
	if err != nil {
		return DialogEntry{}, err
	}

	id := res.GetValue("entry_id").Int()
	if id == 0 {
		id = res.GetValue("id").Int()
	}
	if id == 0 {
		return DialogEntry{}, fmt.Errorf("%s returned no entry id for %q", MethodDialogCreate, title)
	}
	e := DialogEntry{ID: id, Title: title}
	d.add(e)
	d.client.logger.Info(ctx, "dialog entry created",
		"category", d.category,
		"property", d.property,
		"id", id)
	return e, nil
}
