// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"fmt"
	"strings"
	"time"
)

// ValueKind is the closed set of typed representations a field value can
// have.
type ValueKind int

const (
	ValueInvalid ValueKind = iota
	ValueInt
	ValueText
	ValueDouble
	ValueMoney
	ValueDate
	ValueDateTime
	ValueGPS
	ValueDialog
)

var valueKindNames = map[ValueKind]string{
	ValueInt:      "int",
	ValueText:     "text",
	ValueDouble:   "double",
	ValueMoney:    "money",
	ValueDate:     "date",
	ValueDateTime: "datetime",
	ValueGPS:      "gps",
	ValueDialog:   "dialog",
}

// String returns the tag used in rule tables
func (k ValueKind) String() string {
	if name, ok := valueKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("invalid(%d)", int(k))
}

// ParseValueKind parses a kind tag ("int", "text", ...). "float" is accepted
// as an alias of "double".
func ParseValueKind(s string) (ValueKind, error) {
	tag := strings.ToLower(strings.TrimSpace(s))
	if tag == "float" {
		return ValueDouble, nil
	}
	for k, name := range valueKindNames {
		if name == tag {
			return k, nil
		}
	}
	return ValueInvalid, fmt.Errorf("unknown value kind %q", s)
}

// GPS is a geographic coordinate.
type GPS struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AttributeType is the typed representation of one field: a primary kind,
// optionally wrapped in a list, optionally extracted through a rule.
type AttributeType struct {
	Kind ValueKind
	List bool
	Rule *Rule
}

// String renders the type as a rule table tag, e.g. "[]int".
func (t AttributeType) String() string {
	if t.List {
		return "[]" + t.Kind.String()
	}
	return t.Kind.String()
}

// ParseAttributeType parses "kind" or "[]kind".
func ParseAttributeType(s string) (AttributeType, error) {
	s = strings.TrimSpace(s)
	list := strings.HasPrefix(s, "[]")
	kind, err := ParseValueKind(strings.TrimPrefix(s, "[]"))
	if err != nil {
		return AttributeType{}, err
	}
	return AttributeType{Kind: kind, List: list}, nil
}

// Zero returns the value of an unset field: nil for scalars, an empty typed
// slice for lists.
func (t AttributeType) Zero() any {
	if spec, ok := kindSpecs[t.Kind]; ok && t.List {
		return spec.list(nil)
	}
	return nil
}

// kindSpec binds a kind to its conversions.
type kindSpec struct {
	// fromWire converts one element of wire data; nil means unset
	fromWire wireConverter

	// toWire converts one typed element into its storage form
	toWire func(any) any

	// check normalizes a Go value into the kind's representation
	check func(any) (any, bool)

	// list builds the typed slice for list-wrapped fields
	list func([]any) any
}

var kindSpecs map[ValueKind]kindSpec

func init() {
	kindSpecs = map[ValueKind]kindSpec{
		ValueInt:      {fromWire: wireToInt, toWire: passThrough, check: checkInt, list: typedSlice[int64]},
		ValueDialog:   {fromWire: wireToDialog, toWire: passThrough, check: checkInt, list: typedSlice[int64]},
		ValueText:     {fromWire: wireToText, toWire: passThrough, check: checkText, list: typedSlice[string]},
		ValueDouble:   {fromWire: wireToDouble, toWire: passThrough, check: checkFloat, list: typedSlice[float64]},
		ValueMoney:    {fromWire: wireToMoney, toWire: passThrough, check: checkFloat, list: typedSlice[float64]},
		ValueDate:     {fromWire: wireToDate, toWire: dateToWire, check: checkTime, list: typedSlice[time.Time]},
		ValueDateTime: {fromWire: wireToDateTime, toWire: dateTimeToWire, check: checkTime, list: typedSlice[time.Time]},
		ValueGPS:      {fromWire: wireToGPS, toWire: gpsToWire, check: checkGPS, list: typedSlice[GPS]},
	}
}

func typedSlice[T any](items []any) any {
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, it.(T))
	}
	return out
}

func passThrough(v any) any { return v }

// fallbackRule maps a (data type, info type) pair onto a kind. An empty info
// type matches any info type of that data type.
type fallbackRule struct {
	dataType string
	infoType string
	kind     ValueKind
}

var fallbackRules = []fallbackRule{
	{"int", "dialog", ValueDialog},
	{"int", "dialog_plus", ValueDialog},
	{"int", "dialog_list", ValueDialog},
	{"int", "money", ValueMoney},
	{"int", "", ValueInt},
	{"float", "money", ValueMoney},
	{"float", "", ValueDouble},
	{"double", "money", ValueMoney},
	{"double", "", ValueDouble},
	{"text_area", "", ValueText},
	{"text", "date", ValueDate},
	{"text", "datetime", ValueDateTime},
	{"text", "money", ValueMoney},
	{"text", "gps", ValueGPS},
	{"text", "dialog_list", ValueDialog},
	{"text", "object_browser", ValueInt},
	{"text", "", ValueText},
	{"date", "datetime", ValueDateTime},
	{"date", "", ValueDate},
	{"datetime", "", ValueDateTime},
}

// listInfoTypes are info types whose values are lists.
var listInfoTypes = map[string]bool{
	"dialog_list":    true,
	"object_browser": true,
	"multiselect":    true,
	"n2m":            true,
}

// FallbackType derives a field type from the server-reported data and info
// types. An unknown data type yields a *MissingTypeInformationError.
func FallbackType(category, field, dataType, infoType string) (AttributeType, error) {
	for _, r := range fallbackRules {
		if r.dataType != dataType {
			continue
		}
		if r.infoType != "" && r.infoType != infoType {
			continue
		}
		return AttributeType{Kind: r.kind, List: listInfoTypes[infoType]}, nil
	}
	return AttributeType{}, &MissingTypeInformationError{
		Category: category,
		Field:    field,
		DataType: dataType,
		InfoType: infoType,
	}
}

// DetermineType resolves a field's type: a rule table entry wins, otherwise
// the fallback table decides.
func DetermineType(rules *RuleTable, category, field, dataType, infoType string) (AttributeType, error) {
	if rule, ok := rules.Lookup(category, field); ok {
		return AttributeType{Kind: rule.Type.Kind, List: rule.Type.List, Rule: rule}, nil
	}
	return FallbackType(category, field, dataType, infoType)
}
