// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a failure of the HTTP channel: connection errors,
// timeouts, HTTP status >= 400, unexpected content types or undecodable batch
// bodies. A TransportError always aborts the whole call; no partial result is
// returned.
type TransportError struct {
	// Operation that failed (e.g. "call cmdb.objects", "batch")
	Operation string

	// Human-readable error message
	Message string

	// InternalMsg contains detailed error information for internal logging
	// (response excerpts, URLs)
	InternalMsg string

	// StatusCode is the HTTP status, 0 if no response was received
	StatusCode int

	// Number of retry attempts made
	Retries int

	// IsTransient indicates the failure was classified as transient and retried
	IsTransient bool

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Retries > 0 {
		return fmt.Sprintf("idoit: %s failed: %s (retries: %d)", e.Operation, msg, e.Retries)
	}
	return fmt.Sprintf("idoit: %s failed: %s", e.Operation, msg)
}

// Unwrap returns the underlying cause
func (e *TransportError) Unwrap() error {
	return e.Err
}

// DetailedError returns the full error message including internal details
//
// This should only be used in secure logging contexts where disclosure of
// response excerpts is acceptable.
//
// Example:
//
//	var terr *idoit.TransportError
//	if errors.As(err, &terr) {
//	    log.Debug(terr.DetailedError())
//	}
func (e *TransportError) DetailedError() string {
	if e.InternalMsg == "" {
		return e.Error()
	}
	return fmt.Sprintf("%s (internal: %s)", e.Error(), e.InternalMsg)
}

// RPCError is the error object of a JSON-RPC response envelope.
type RPCError struct {
	// Code is the JSON-RPC error code
	Code int `json:"code"`

	// Message is the server's error message
	Message string `json:"message"`

	// Data carries optional server supplied details
	Data json.RawMessage `json:"data,omitempty"`

	// Method and ID identify the request the error belongs to
	Method string `json:"-"`
	ID     string `json:"-"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("idoit: rpc error %d in %s (id %s): %s", e.Code, e.Method, e.ID, e.Message)
	}
	return fmt.Sprintf("idoit: rpc error %d: %s", e.Code, e.Message)
}

// UnsupportedCategoryError reports a category the API cannot serve. The
// category is remembered as unresolvable and every further lookup fails
// immediately without network traffic.
type UnsupportedCategoryError struct {
	Category string
	Err      error
}

// Error implements the error interface
func (e *UnsupportedCategoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("idoit: category %s is not supported by the API: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("idoit: category %s is not supported by the API", e.Category)
}

// Unwrap returns the underlying cause
func (e *UnsupportedCategoryError) Unwrap() error {
	return e.Err
}

// MissingTypeInformationError reports a field whose (data type, info type)
// pair has no typed representation. Such fields are dropped from their
// category with a warning.
type MissingTypeInformationError struct {
	Category string
	Field    string
	DataType string
	InfoType string
}

// Error implements the error interface
func (e *MissingTypeInformationError) Error() string {
	return fmt.Sprintf("idoit: no type information for %s.%s (data type %q, info type %q)",
		e.Category, e.Field, e.DataType, e.InfoType)
}

// ConversionError reports that a raw wire value could not be converted into
// the declared typed representation. It signals a contract violation between
// the schema and the data the server sent and is never recovered from.
type ConversionError struct {
	Category string
	Field    string
	Type     AttributeType
	Raw      string
	Err      error
}

// Error implements the error interface
func (e *ConversionError) Error() string {
	return fmt.Sprintf("idoit: cannot convert %s.%s to %s: %v (raw value: %s)",
		e.Category, e.Field, e.Type, e.Err, truncateRaw(e.Raw))
}

// Unwrap returns the underlying cause
func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Fatal reports that the error must not be recovered from.
func (e *ConversionError) Fatal() bool {
	return true
}

// Diagnostic returns a multi-line explanation suitable for error logs.
func (e *ConversionError) Diagnostic() string {
	return fmt.Sprintf("could not derive a value for %s.%s: the API declares type %s, "+
		"but the received data does not fit it: %s. A mapping rule for this attribute is needed.",
		e.Category, e.Field, e.Type, e.Raw)
}

// TypeCheckError reports a value assigned to a field that does not match the
// field's typed representation.
type TypeCheckError struct {
	Category string
	Field    string
	Expected AttributeType
	Value    any
}

// Error implements the error interface
func (e *TypeCheckError) Error() string {
	return fmt.Sprintf("idoit: value %v (%T) for %s.%s does not match type %s",
		e.Value, e.Value, e.Category, e.Field, e.Expected)
}

// UnknownFieldError reports access to a key the category does not define.
type UnknownFieldError struct {
	Category string
	Field    string
}

// Error implements the error interface
func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("idoit: category %s has no field %s", e.Category, e.Field)
}

// UnknownTypeError reports an object type the server does not know.
type UnknownTypeError struct {
	Type string
}

// Error implements the error interface
func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("idoit: unknown object type %s", e.Type)
}

// ObjectNotFoundError reports an object id the server does not know.
type ObjectNotFoundError struct {
	ID int64
}

// Error implements the error interface
func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("idoit: object %d not found", e.ID)
}

// UnknownCategoryError reports a category that is not part of an object's
// type, or a single/multi value access that does not match the inclusion.
type UnknownCategoryError struct {
	Type     string
	Category string
	Reason   string
}

// Error implements the error interface
func (e *UnknownCategoryError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("idoit: category %s of type %s: %s", e.Category, e.Type, e.Reason)
	}
	return fmt.Sprintf("idoit: type %s has no category %s", e.Type, e.Category)
}

// IsUnsupportedCategory reports whether err is (or wraps) an UnsupportedCategoryError.
func IsUnsupportedCategory(err error) bool {
	var target *UnsupportedCategoryError
	return errors.As(err, &target)
}

// IsConversionError reports whether err is (or wraps) a ConversionError.
func IsConversionError(err error) bool {
	var target *ConversionError
	return errors.As(err, &target)
}

// TransientStatusCodes lists HTTP statuses that trigger an automatic retry.
//
// Only statuses that state the request was not processed are included.
// Timeouts are never retried.
var TransientStatusCodes = []int{
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

func isTransientStatus(code int) bool {
	for _, c := range TransientStatusCodes {
		if c == code {
			return true
		}
	}
	return false
}

func truncateRaw(raw string) string {
	if len(raw) <= 200 {
		return raw
	}
	return raw[:200] + "..."
}
