// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import "time"

// Req represents a request modifier
//
// This struct is used to apply call-specific options via functional modifiers.
// Methods and parameters are passed directly to Call and BatchCall.
//
// Example:
//
//	// Batch with partial failure tolerance and a custom timeout
//	res, err := client.BatchCall(ctx, requests,
//	    idoit.OnError(idoit.ErrorPolicyCollect),
//	    idoit.Timeout(2*time.Minute))
type Req struct {
	// Timeout is the request-specific timeout per HTTP round trip
	// Overrides client default timeout if set
	Timeout time.Duration

	// ErrorPolicy selects how RPC errors inside a batch are reported
	ErrorPolicy ErrorPolicy
}

// ErrorPolicy selects how per-entry RPC errors of a batch are surfaced.
type ErrorPolicy int

const (
	// ErrorPolicyRaiseFirst returns the first RPC error (in chunk order) as
	// the call's error once every chunk has been processed. This is the
	// default.
	ErrorPolicyRaiseFirst ErrorPolicy = iota

	// ErrorPolicyCollect never fails on RPC errors; each failing entry carries
	// its error in Result.Err.
	ErrorPolicyCollect
)

// String returns the policy name
func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPolicyRaiseFirst:
		return "raise-first"
	case ErrorPolicyCollect:
		return "collect"
	default:
		return "unknown"
	}
}

// Timeout sets a request-specific timeout
//
// The timeout applies to each HTTP round trip of the call. It takes priority
// over a context deadline and the client default.
func Timeout(duration time.Duration) func(*Req) {
	return func(r *Req) {
		r.Timeout = duration
	}
}

// OnError sets the batch error policy
//
// Example:
//
//	res, _ := client.BatchCall(ctx, requests, idoit.OnError(idoit.ErrorPolicyCollect))
//	for id, r := range res {
//	    if r.Err != nil {
//	        log.Printf("%s failed: %v", id, r.Err)
//	    }
//	}
func OnError(policy ErrorPolicy) func(*Req) {
	return func(r *Req) {
		r.ErrorPolicy = policy
	}
}

// Request is one logical JSON-RPC call inside a batch.
type Request struct {
	// Method is the JSON-RPC method name, e.g. "cmdb.category"
	Method string

	// Params is encoded to a JSON object. Accepted are maps, structs, Params
	// builders, json.RawMessage and nil (empty object).
	Params any
}

func newReq(mods []func(*Req)) *Req {
	req := &Req{ErrorPolicy: ErrorPolicyRaiseFirst}
	for _, mod := range mods {
		mod(req)
	}
	return req
}
