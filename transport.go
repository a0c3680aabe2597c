// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const jsonRPCVersion = "2.0"

type requestEnvelope struct {
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Version string          `json:"version"`
}

type responseEnvelope struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type chunkResult struct {
	results map[string]Result
	order   []string
}

// Call performs a single JSON-RPC call.
//
// The API key is merged into an encoded copy of params; the caller's value is
// not modified. A response body that is not JSON yields an empty Result and no
// error. An error member in the response is returned as *RPCError, HTTP level
// failures as *TransportError.
//
// Example:
//
//	res, err := client.Call(ctx, idoit.MethodObjects,
//	    idoit.Params{}.Set("filter.type", "C__OBJTYPE__PERSON"))
//	if err != nil {
//	    return err
//	}
//	for _, row := range res.Value().Array() {
//	    fmt.Println(row.Get("title").String())
//	}
func (c *Client) Call(ctx context.Context, method string, params any, mods ...func(*Req)) (Result, error) {
	if err := ValidateMethod(method); err != nil {
		return Result{Method: method}, fmt.Errorf("call: %w", err)
	}

	req := newReq(mods)
	id := uuid.NewString()
	res := Result{ID: id, Method: method}

	env, err := c.encodeEnvelope(id, method, params)
	if err != nil {
		return res, fmt.Errorf("call %s: %w", method, err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return res, fmt.Errorf("call %s: %w", method, err)
	}

	body, err := c.roundTrip(ctx, "call "+method, payload, 1, req)
	if err != nil {
		return res, err
	}

	if !gjson.ValidBytes(body) {
		c.logger.Warn(ctx, "response body is not JSON, returning empty result",
			"method", method,
			"size", len(body))
		return res, nil
	}

	var resp responseEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn(ctx, "response is not a JSON-RPC envelope, returning empty result",
			"method", method,
			"error", err.Error())
		return res, nil
	}

	if resp.Error != nil {
		resp.Error.Method = method
		resp.Error.ID = id
		c.metrics.observeRPCError(resp.Error.Code)
		c.logger.Error(ctx, "JSON-RPC call failed",
			"method", method,
			"code", resp.Error.Code,
			"message", resp.Error.Message)
		res.Err = resp.Error
		return res, resp.Error
	}

	res.Raw = resp.Result
	return res, nil
}

// BatchCall sends many JSON-RPC calls, keyed by caller chosen ids, in as few
// HTTP round trips as possible.
//
// More than MaxBatchSize calls are split into ceil(N/MaxBatchSize) chunks of
// ids in sorted order. Chunks run sequentially unless ParallelChunks > 1; the
// results are merged by id. Any transport failure aborts the whole batch and
// returns no result.
//
// RPC errors follow the error policy (see OnError). With the default
// ErrorPolicyRaiseFirst every chunk is still processed and the first failing
// entry's *RPCError is returned together with the merged result, so callers
// can tell which calls were confirmed. With ErrorPolicyCollect the error is
// nil and failures are reported per entry in Result.Err.
//
// Responses without an id, or with an id that was not requested, are dropped
// with a warning. An id the server did not answer is absent from the
// result, also with only a warning, so callers must check ok on every
// lookup:
//
//	r, ok := res["a"]
//	if !ok || r.Err != nil {
//	    // not confirmed
//	}
//
// An empty batch returns an empty result without network traffic.
//
// Example:
//
//	res, err := client.BatchCall(ctx, map[string]idoit.Request{
//	    "a": {Method: idoit.MethodCategoryRead, Params: map[string]any{"objID": 1, "category": "C__CATG__GLOBAL"}},
//	    "b": {Method: idoit.MethodCategoryRead, Params: map[string]any{"objID": 2, "category": "C__CATG__GLOBAL"}},
//	}, idoit.OnError(idoit.ErrorPolicyCollect))
func (c *Client) BatchCall(ctx context.Context, requests map[string]Request, mods ...func(*Req)) (BatchResult, error) {
	req := newReq(mods)
	if len(requests) == 0 {
		return BatchResult{}, nil
	}

	ids := make([]string, 0, len(requests))
	for id := range requests {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// encode everything up front so a bad request fails before any traffic
	envelopes := make(map[string]requestEnvelope, len(requests))
	for _, id := range ids {
		r := requests[id]
		if id == "" {
			return nil, fmt.Errorf("batch: request id cannot be empty")
		}
		if err := ValidateMethod(r.Method); err != nil {
			return nil, fmt.Errorf("batch: request %s: %w", id, err)
		}
		env, err := c.encodeEnvelope(id, r.Method, r.Params)
		if err != nil {
			return nil, fmt.Errorf("batch: request %s: %w", id, err)
		}
		envelopes[id] = env
	}

	chunks := chunkIDs(ids, c.MaxBatchSize)
	if len(chunks) > 1 {
		c.logger.Debug(ctx, "splitting batch",
			"calls", len(ids),
			"chunks", len(chunks),
			"max_batch_size", c.MaxBatchSize)
	}

	results := make([]chunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.ParallelChunks)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &TransportError{Operation: "batch", Message: "batch aborted", Err: err}
			}
			cr, err := c.sendChunk(gctx, i, len(chunks), chunk, envelopes, req)
			if err != nil {
				return err
			}
			results[i] = cr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(BatchResult, len(ids))
	var first *RPCError
	for _, cr := range results {
		for _, id := range cr.order {
			r := cr.results[id]
			merged[id] = r
			if r.Err != nil && first == nil {
				first = r.Err
			}
		}
	}

	if first != nil && req.ErrorPolicy == ErrorPolicyRaiseFirst {
		return merged, first
	}
	return merged, nil
}

// BatchCallMethod is BatchCall for calls that share one method.
//
// Example:
//
//	res, err := client.BatchCallMethod(ctx, idoit.MethodCategoryInfo, map[string]any{
//	    "C__CATG__GLOBAL": map[string]any{"catgID": 1},
//	    "C__CATS__PERSON": map[string]any{"catsID": 48},
//	})
func (c *Client) BatchCallMethod(ctx context.Context, method string, params map[string]any, mods ...func(*Req)) (BatchResult, error) {
	requests := make(map[string]Request, len(params))
	for id, p := range params {
		requests[id] = Request{Method: method, Params: p}
	}
	return c.BatchCall(ctx, requests, mods...)
}

func (c *Client) encodeEnvelope(id, method string, params any) (requestEnvelope, error) {
	raw, err := encodeParams(params, c.apiKey)
	if err != nil {
		return requestEnvelope{}, err
	}
	return requestEnvelope{ID: id, Method: method, Params: raw, Version: jsonRPCVersion}, nil
}

func (c *Client) sendChunk(ctx context.Context, index, total int, ids []string, envelopes map[string]requestEnvelope, req *Req) (chunkResult, error) {
	batch := make([]requestEnvelope, 0, len(ids))
	known := make(map[string]string, len(ids))
	for _, id := range ids {
		env := envelopes[id]
		batch = append(batch, env)
		known[id] = env.Method
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return chunkResult{}, fmt.Errorf("batch: %w", err)
	}

	c.metrics.BatchChunks.Inc()
	op := fmt.Sprintf("batch chunk %d/%d", index+1, total)
	body, err := c.roundTrip(ctx, op, payload, len(ids), req)
	if err != nil {
		return chunkResult{}, err
	}

	entries, err := c.decodeBatch(ctx, op, body)
	if err != nil {
		return chunkResult{}, err
	}

	out := chunkResult{results: make(map[string]Result, len(ids))}
	for _, e := range entries {
		id := envelopeID(e.ID)
		method, ok := known[id]
		if id == "" && e.Error != nil {
			// the server rejected the batch as a whole
			e.Error.Method = "batch"
			c.metrics.observeRPCError(e.Error.Code)
			return chunkResult{}, e.Error
		}
		if !ok {
			c.logger.Warn(ctx, "dropping response with unknown id",
				"operation", op,
				"id", id)
			continue
		}
		if _, dup := out.results[id]; dup {
			c.logger.Warn(ctx, "dropping duplicate response",
				"operation", op,
				"id", id)
			continue
		}

		r := Result{ID: id, Method: method}
		if e.Error != nil {
			e.Error.Method = method
			e.Error.ID = id
			r.Err = e.Error
			c.metrics.observeRPCError(e.Error.Code)
			c.logger.Warn(ctx, "JSON-RPC call in batch failed",
				"id", id,
				"method", method,
				"code", e.Error.Code,
				"message", e.Error.Message)
		} else {
			r.Raw = e.Result
		}
		out.results[id] = r
		out.order = append(out.order, id)
	}

	if missing := len(ids) - len(out.results); missing > 0 {
		c.logger.Warn(ctx, "batch response is missing entries",
			"operation", op,
			"missing", missing)
	}

	return out, nil
}

// decodeBatch parses a batch response body. Servers occasionally print
// notices in front of the payload; in that case the last line is tried.
func (c *Client) decodeBatch(ctx context.Context, op string, body []byte) ([]responseEnvelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if !gjson.ValidBytes(trimmed) {
		lines := bytes.Split(trimmed, []byte("\n"))
		last := bytes.TrimSpace(lines[len(lines)-1])
		if !gjson.ValidBytes(last) {
			return nil, &TransportError{
				Operation:   op,
				Message:     "response body is not valid JSON",
				InternalMsg: truncateRaw(string(body)),
			}
		}
		c.logger.Warn(ctx, "recovered batch response from last line of body",
			"operation", op,
			"discarded_bytes", len(trimmed)-len(last))
		trimmed = last
	}

	parsed := gjson.ParseBytes(trimmed)
	var entries []responseEnvelope
	switch {
	case parsed.IsArray():
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, &TransportError{Operation: op, Message: "malformed batch response", Err: err}
		}
	case parsed.IsObject():
		var single responseEnvelope
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, &TransportError{Operation: op, Message: "malformed batch response", Err: err}
		}
		entries = []responseEnvelope{single}
	case parsed.Type == gjson.Null:
		return nil, nil
	default:
		return nil, &TransportError{
			Operation:   op,
			Message:     "batch response is neither an array nor an object",
			InternalMsg: truncateRaw(string(trimmed)),
		}
	}
	return entries, nil
}

// roundTrip posts a payload, retrying transient HTTP statuses with backoff.
func (c *Client) roundTrip(ctx context.Context, operation string, payload []byte, calls int, req *Req) ([]byte, error) {
	if err := checkContextCancellation(ctx); err != nil {
		return nil, &TransportError{Operation: operation, Message: "context canceled", Err: err}
	}

	totalCtx, cancel := context.WithTimeout(ctx, c.calculateTotalTimeout(req))
	defer cancel()

	c.logger.Debug(ctx, "JSON-RPC request",
		"operation", operation,
		"calls", calls,
		"payload", c.prepareJSONForLogging(string(payload)))

	var lastErr *TransportError
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		body, terr := c.doPost(totalCtx, payload, calls, req)
		if terr == nil {
			c.logger.Debug(ctx, "JSON-RPC response",
				"operation", operation,
				"attempt", attempt+1,
				"body", c.prepareJSONForLogging(string(body)))
			return body, nil
		}

		terr.Operation = operation
		terr.Retries = attempt
		lastErr = terr

		if !terr.IsTransient || attempt == c.MaxRetries {
			break
		}

		c.metrics.Retries.Inc()
		backoff := c.Backoff(attempt)
		c.logger.Warn(ctx, "transient error, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_retries", c.MaxRetries,
			"backoff", backoff,
			"error", terr.Error())

		select {
		case <-time.After(backoff):
		case <-totalCtx.Done():
			return nil, &TransportError{
				Operation: operation,
				Message:   "context canceled during backoff",
				Retries:   attempt + 1,
				Err:       totalCtx.Err(),
			}
		}
	}

	c.logger.Error(ctx, "JSON-RPC round trip failed",
		"operation", operation,
		"error", lastErr.Error())
	return nil, lastErr
}

func (c *Client) doPost(ctx context.Context, payload []byte, calls int, req *Req) ([]byte, *TransportError) {
	attemptCtx, cancel := c.createAttemptContext(ctx, req)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Message: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.username != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.observeRoundTrip(0, calls, time.Since(start))
		msg := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		return nil, &TransportError{Message: msg, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.metrics.observeRoundTrip(resp.StatusCode, calls, time.Since(start))
	if err != nil {
		return nil, &TransportError{Message: "failed to read response body", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &TransportError{
			Message:     "HTTP error",
			StatusCode:  resp.StatusCode,
			IsTransient: isTransientStatus(resp.StatusCode),
			InternalMsg: truncateRaw(string(body)),
		}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return nil, &TransportError{
				Message:     fmt.Sprintf("unexpected content type %q", ct),
				StatusCode:  resp.StatusCode,
				InternalMsg: truncateRaw(string(body)),
			}
		}
	}

	return body, nil
}

// chunkIDs splits ids into consecutive chunks of at most size entries.
func chunkIDs(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// envelopeID normalizes a response id that may be a JSON string or number.
func envelopeID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	return string(raw)
}
