// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
)

// Result is the outcome of one JSON-RPC call.
//
// Raw holds the envelope's "result" member verbatim. For calls whose response
// body could not be parsed Raw is empty and Exists reports false.
type Result struct {
	// ID is the envelope id of the call
	ID string

	// Method is the called JSON-RPC method
	Method string

	// Raw is the undecoded "result" member
	Raw json.RawMessage

	// Err is set for entries that failed (collect mode only)
	Err *RPCError
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Exists reports whether a result payload was received.
func (r Result) Exists() bool {
	return len(r.Raw) > 0 && gjson.ValidBytes(r.Raw)
}

// Value returns the whole result as gjson.Result.
func (r Result) Value() gjson.Result {
	if len(r.Raw) == 0 {
		return gjson.Result{}
	}
	return gjson.ParseBytes(r.Raw)
}

// GetValue retrieves a value from the result using a gjson path
//
// Example:
//
//	res, _ := client.Call(ctx, idoit.MethodObjects, params)
//	title := res.GetValue("0.title").String()
//	ids := res.GetValue("#.id").Array()
func (r Result) GetValue(path string) gjson.Result {
	if len(r.Raw) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Raw, path)
}

// Unmarshal decodes the result payload into v.
func (r Result) Unmarshal(v any) error {
	if len(r.Raw) == 0 {
		return fmt.Errorf("result of %s (id %s) is empty", r.Method, r.ID)
	}
	return json.Unmarshal(r.Raw, v)
}

// JSON returns the raw result as a string
func (r Result) JSON() string {
	return string(r.Raw)
}

// BatchResult maps caller supplied request ids to their results.
type BatchResult map[string]Result

// Errors returns the failing entries keyed by request id.
func (b BatchResult) Errors() map[string]*RPCError {
	out := make(map[string]*RPCError)
	for id, r := range b {
		if r.Err != nil {
			out[id] = r.Err
		}
	}
	return out
}

// Succeeded reports whether the request with the given id was confirmed
// successful.
func (b BatchResult) Succeeded(id string) bool {
	r, ok := b[id]
	return ok && r.Err == nil
}

// IDs returns the request ids present in the result, sorted.
func (b BatchResult) IDs() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FlexInt decodes integers the server sends either as JSON numbers or as
// numeric strings. An empty string or null decodes to 0.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s", data)
	}
	*f = FlexInt(n)
	return nil
}

// Int64 returns the value as int64
func (f FlexInt) Int64() int64 {
	return int64(f)
}
