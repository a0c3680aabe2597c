// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Date layouts used by the server
const (
	DateLayout          = "2006-01-02"
	DateTimeLayout      = "2006-01-02 15:04:05"
	dateTimeShortLayout = "2006-01-02 - 15:04"
)

type wireConverter func(gjson.Result) (any, error)

// IsUnset reports whether a wire value means "no value": missing, null,
// false, or an array that is empty or only contains empty arrays.
func IsUnset(v gjson.Result) bool {
	switch {
	case !v.Exists():
		return true
	case v.Type == gjson.Null, v.Type == gjson.False:
		return true
	case v.IsArray():
		unset := true
		v.ForEach(func(_, elem gjson.Result) bool {
			if !elem.IsArray() || !IsUnset(elem) {
				unset = false
				return false
			}
			return true
		})
		return unset
	}
	return false
}

// FromWire converts a raw wire value into the typed representation of t.
//
// Unset values become t.Zero(). With a rule the value is first extracted by
// the rule's path: no match is an error, and so is more than one match for a
// scalar type. List types convert element-wise and skip unset elements.
func FromWire(t AttributeType, raw gjson.Result) (any, error) {
	spec, ok := kindSpecs[t.Kind]
	if !ok {
		return nil, fmt.Errorf("invalid value kind %d", int(t.Kind))
	}
	if IsUnset(raw) {
		return t.Zero(), nil
	}

	var elems []gjson.Result
	switch {
	case t.Rule != nil:
		elems = t.Rule.Extract(raw)
		if len(elems) == 0 {
			return nil, fmt.Errorf("rule path %s matched nothing", t.Rule.Expr)
		}
		if !t.List && len(elems) > 1 {
			return nil, fmt.Errorf("rule path %s matched %d values, expected one", t.Rule.Expr, len(elems))
		}
	case t.List && raw.IsArray():
		elems = raw.Array()
	default:
		elems = []gjson.Result{raw}
	}

	if !t.List {
		return spec.fromWire(elems[0])
	}

	items := make([]any, 0, len(elems))
	for i, elem := range elems {
		v, err := spec.fromWire(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if v != nil {
			items = append(items, v)
		}
	}
	return spec.list(items), nil
}

// ToWire converts a typed value into the form sent to the server.
func ToWire(t AttributeType, v any) any {
	if v == nil {
		return nil
	}
	spec, ok := kindSpecs[t.Kind]
	if !ok {
		return v
	}
	if !t.List {
		return spec.toWire(v)
	}
	items, ok := sliceItems(v)
	if !ok {
		return v
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, spec.toWire(it))
	}
	return out
}

// Normalize type checks v against t and returns it in canonical form (int64
// for integers, float64 for decimals, typed slices for lists). nil is always
// accepted.
func Normalize(t AttributeType, v any) (any, bool) {
	if v == nil {
		return t.Zero(), true
	}
	spec, ok := kindSpecs[t.Kind]
	if !ok {
		return nil, false
	}
	if !t.List {
		return spec.check(v)
	}
	items, ok := sliceItems(v)
	if !ok {
		return nil, false
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		n, ok := spec.check(it)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return spec.list(out), true
}

func sliceItems(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// valuesEqual compares typed values; times compare by instant.
func valuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// unwrapSingle reduces a one-element array to its element. ok is false for
// arrays with more than one element.
func unwrapSingle(v gjson.Result) (gjson.Result, bool) {
	if !v.IsArray() {
		return v, true
	}
	elems := v.Array()
	switch len(elems) {
	case 0:
		return gjson.Result{}, true
	case 1:
		return elems[0], true
	default:
		return v, false
	}
}

func wireToInt(v gjson.Result) (any, error) {
	switch {
	case v.Type == gjson.Number:
		if f := v.Float(); f != math.Trunc(f) {
			return nil, fmt.Errorf("cannot convert %s to integer", v.Raw)
		}
		return v.Int(), nil
	case v.Type == gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to integer", s)
		}
		return n, nil
	case v.IsObject():
		if id := v.Get("id"); id.Exists() {
			return wireToInt(id)
		}
		if title := v.Get("title"); title.Exists() {
			return wireToInt(title)
		}
		return nil, fmt.Errorf("cannot find an integer in object %s", v.Raw)
	case v.IsArray():
		elem, ok := unwrapSingle(v)
		if !ok {
			return nil, fmt.Errorf("cannot read a single integer from %s", v.Raw)
		}
		if !elem.Exists() {
			return nil, nil
		}
		return wireToInt(elem)
	case !v.Exists(), v.Type == gjson.Null, v.Type == gjson.False:
		return nil, nil
	}
	return nil, fmt.Errorf("cannot convert %s to integer", v.Raw)
}

func wireToDialog(v gjson.Result) (any, error) {
	switch {
	case v.IsObject():
		if id := v.Get("id"); id.Exists() {
			return wireToInt(id)
		}
		if value := v.Get("value"); value.Exists() {
			return wireToInt(value)
		}
		return nil, fmt.Errorf("no dialog id in %s", v.Raw)
	case v.IsArray():
		elem, ok := unwrapSingle(v)
		if !ok {
			return nil, fmt.Errorf("cannot read a single dialog entry from %s", v.Raw)
		}
		if !elem.Exists() {
			return nil, nil
		}
		return wireToDialog(elem)
	case v.Type == gjson.True:
		return nil, fmt.Errorf("no dialog id in %s", v.Raw)
	}
	return wireToInt(v)
}

func wireToText(v gjson.Result) (any, error) {
	switch {
	case v.Type == gjson.String:
		return v.Str, nil
	case v.Type == gjson.Number:
		return v.Raw, nil
	case v.Type == gjson.True, v.Type == gjson.False, v.Type == gjson.Null, !v.Exists():
		return nil, nil
	case v.IsObject():
		if ref := v.Get("ref_title"); ref.Exists() {
			return wireToText(ref)
		}
		var found *gjson.Result
		v.ForEach(func(key, value gjson.Result) bool {
			if strings.HasPrefix(key.Str, "id") || strings.HasPrefix(key.Str, "title") {
				return true
			}
			found = &value
			return false
		})
		if found == nil {
			return nil, fmt.Errorf("no text representation in %s", v.Raw)
		}
		return wireToText(*found)
	case v.IsArray():
		elem, ok := unwrapSingle(v)
		if !ok {
			return nil, fmt.Errorf("cannot read a single text from %s", v.Raw)
		}
		return wireToText(elem)
	}
	return nil, fmt.Errorf("no text representation in %s", v.Raw)
}

func wireToDouble(v gjson.Result) (any, error) {
	switch {
	case v.Type == gjson.Number:
		return v.Float(), nil
	case v.Type == gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return nil, nil
		}
		f, err := parseDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to double", s)
		}
		return f, nil
	case v.IsArray():
		elem, ok := unwrapSingle(v)
		if !ok {
			return nil, fmt.Errorf("cannot read a single double from %s", v.Raw)
		}
		if !elem.Exists() {
			return nil, nil
		}
		return wireToDouble(elem)
	}
	return nil, fmt.Errorf("cannot convert %s to double", v.Raw)
}

func wireToMoney(v gjson.Result) (any, error) {
	if v.Type != gjson.String {
		return wireToDouble(v)
	}
	fields := strings.Fields(v.Str)
	if len(fields) == 0 {
		return float64(0), nil
	}
	f, err := parseDecimal(fields[0])
	if err != nil {
		return nil, fmt.Errorf("cannot convert %q to money", v.Str)
	}
	return f, nil
}

// parseDecimal parses numbers with thousands separators in either the
// "1,234.56" or the "1.234,56" convention. A single comma followed by other
// than three digits is a decimal comma.
func parseDecimal(s string) (float64, error) {
	s = strings.NewReplacer(" ", "", "'", "", "\u00a0", "").Replace(s)
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	return strconv.ParseFloat(s, 64)
}

func wireToDate(v gjson.Result) (any, error) {
	if v.Type != gjson.String {
		return nil, fmt.Errorf("cannot convert %s to date", v.Raw)
	}
	s := strings.TrimSpace(v.Str)
	if s == "" || s == "-" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, strings.Fields(s)[0])
	if err != nil {
		return nil, fmt.Errorf("cannot convert %q to date", s)
	}
	return t, nil
}

func wireToDateTime(v gjson.Result) (any, error) {
	if v.Type != gjson.String {
		return nil, fmt.Errorf("cannot convert %s to datetime", v.Raw)
	}
	s := strings.TrimSpace(v.Str)
	if s == "" || s == "-" {
		return nil, nil
	}
	head := strings.SplitN(s, " - ", 2)[0]
	if t, err := time.Parse(DateTimeLayout, head); err == nil {
		return t, nil
	}
	if t, err := time.Parse(dateTimeShortLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(DateLayout, head); err == nil {
		return t, nil
	}
	return nil, fmt.Errorf("cannot convert %q to datetime", s)
}

func wireToGPS(v gjson.Result) (any, error) {
	var lat, lon gjson.Result
	switch {
	case v.IsObject():
		lat, lon = v.Get("latitude"), v.Get("longitude")
	case v.IsArray() && len(v.Array()) == 2:
		lat, lon = v.Array()[0], v.Array()[1]
	default:
		return nil, fmt.Errorf("cannot convert %s to gps", v.Raw)
	}
	if !lat.Exists() || !lon.Exists() {
		return nil, fmt.Errorf("gps value %s lacks latitude or longitude", v.Raw)
	}
	if strings.TrimSpace(lat.String()) == "" && strings.TrimSpace(lon.String()) == "" {
		return nil, nil
	}
	la, err := parseDecimal(strings.TrimSpace(lat.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %s", lat.Raw)
	}
	lo, err := parseDecimal(strings.TrimSpace(lon.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %s", lon.Raw)
	}
	return GPS{Latitude: la, Longitude: lo}, nil
}

func dateToWire(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(DateLayout)
	}
	return v
}

func dateTimeToWire(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(DateTimeLayout)
	}
	return v
}

func gpsToWire(v any) any {
	if g, ok := v.(GPS); ok {
		return map[string]any{"latitude": g.Latitude, "longitude": g.Longitude}
	}
	return v
}

func checkInt(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	}
	return nil, false
}

func checkText(v any) (any, bool) {
	s, ok := v.(string)
	return s, ok
}

func checkFloat(v any) (any, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	}
	if n, ok := checkInt(v); ok {
		return float64(n.(int64)), true
	}
	return nil, false
}

func checkTime(v any) (any, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	}
	return nil, false
}

func checkGPS(v any) (any, bool) {
	switch g := v.(type) {
	case GPS:
		return g, true
	case *GPS:
		if g != nil {
			return *g, true
		}
	}
	return nil, false
}
