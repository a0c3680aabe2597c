// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Params is a fluent builder for JSON-RPC parameter objects using sjson
// paths.
//
// The builder is immutable: every Set returns a new Params. The first error is
// kept and reported by Err, String and MarshalJSON; later operations are
// no-ops.
//
// Example:
//
//	params := idoit.Params{}.
//	    Set("filter.type", "C__OBJTYPE__PERSON").
//	    Set("filter.status", 2)
//	res, err := client.Call(ctx, idoit.MethodObjects, params)
type Params struct {
	str string
	err error
}

// NewParams starts a builder from an existing JSON object.
func NewParams(raw string) Params {
	if raw == "" {
		return Params{}
	}
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return Params{err: fmt.Errorf("params must be a JSON object")}
	}
	return Params{str: raw}
}

// Set sets a value at the given sjson path and returns the new Params.
func (p Params) Set(path string, value any) Params {
	if p.err != nil {
		return p
	}
	result, err := sjson.Set(p.str, path, value)
	if err != nil {
		return Params{str: p.str, err: fmt.Errorf("Set(%q): %w", path, err)}
	}
	return Params{str: result}
}

// SetRaw sets a raw JSON fragment at the given path.
func (p Params) SetRaw(path, raw string) Params {
	if p.err != nil {
		return p
	}
	result, err := sjson.SetRaw(p.str, path, raw)
	if err != nil {
		return Params{str: p.str, err: fmt.Errorf("SetRaw(%q): %w", path, err)}
	}
	return Params{str: result}
}

// Delete removes the value at the given path and returns the new Params.
func (p Params) Delete(path string) Params {
	if p.err != nil {
		return p
	}
	result, err := sjson.Delete(p.str, path)
	if err != nil {
		return Params{str: p.str, err: fmt.Errorf("Delete(%q): %w", path, err)}
	}
	return Params{str: result}
}

// Get reads a value back from the builder.
func (p Params) Get(path string) gjson.Result {
	return gjson.Get(p.String(), path)
}

// Err returns the first error encountered while building.
func (p Params) Err() error {
	return p.err
}

// String returns the JSON object, "{}" for an empty builder.
func (p Params) String() string {
	if p.str == "" {
		return "{}"
	}
	return p.str
}

// MarshalJSON implements json.Marshaler.
func (p Params) MarshalJSON() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []byte(p.String()), nil
}

// encodeParams turns caller parameters into a JSON object and merges the
// credential into the encoded copy. The caller's value is never modified.
func encodeParams(params any, apiKey string) (json.RawMessage, error) {
	var raw []byte
	switch v := params.(type) {
	case nil:
		raw = []byte("{}")
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		raw = b
	}

	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, fmt.Errorf("encode params: params must encode to a JSON object")
	}
	if apiKey == "" {
		return raw, nil
	}

	// sjson.SetBytes may reuse the input slice
	buf := make([]byte, len(raw))
	copy(buf, raw)
	out, err := sjson.SetBytes(buf, "apikey", apiKey)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return out, nil
}
