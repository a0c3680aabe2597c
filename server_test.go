// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// rpcHandler answers one JSON-RPC call. Returning a non-nil *RPCError sends
// an error member instead of a result.
type rpcHandler func(params gjson.Result) (any, *RPCError)

type recordedCall struct {
	ID     string
	Method string
	Params gjson.Result
}

// fakeCMDB is an in-process JSON-RPC server speaking the i-doit dialect.
type fakeCMDB struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    []recordedCall
	posts    int

	// intercept, if set, may answer a POST itself (status, content type,
	// raw body); returning false passes the request on.
	intercept func(w http.ResponseWriter, post int) bool
}

func newFakeCMDB(t *testing.T) *fakeCMDB {
	t.Helper()
	f := &fakeCMDB{t: t, handlers: make(map[string]rpcHandler)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCMDB) handle(method string, h rpcHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

// result registers a handler that always returns v.
func (f *fakeCMDB) result(method string, v any) {
	f.handle(method, func(gjson.Result) (any, *RPCError) { return v, nil })
}

func (f *fakeCMDB) url() string {
	return f.srv.URL + "/src/jsonrpc.php"
}

// client creates a client for the fake server with a pinned API version and
// fast retries. opts are applied last.
func (f *fakeCMDB) client(opts ...func(*Client)) *Client {
	f.t.Helper()
	base := []func(*Client){
		APIKey("test-key"),
		APIVersion("1.15"),
		BackoffMinDelay(time.Millisecond),
		BackoffMaxDelay(5 * time.Millisecond),
	}
	c, err := NewClient(f.url(), append(base, opts...)...)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = c.Close() })
	return c
}

func (f *fakeCMDB) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts
}

func (f *fakeCMDB) allCalls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeCMDB) callsTo(method string) []recordedCall {
	var out []recordedCall
	for _, c := range f.allCalls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCMDB) resetCounters() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.posts = 0
}

type fakeResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func (f *fakeCMDB) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.posts++
	post := f.posts
	intercept := f.intercept
	f.mu.Unlock()

	if intercept != nil && intercept(w, post) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	parsed := gjson.ParseBytes(body)
	if parsed.IsArray() {
		var out []fakeResponse
		for _, env := range parsed.Array() {
			out = append(out, f.dispatch(env))
		}
		_ = json.NewEncoder(w).Encode(out)
		return
	}
	_ = json.NewEncoder(w).Encode(f.dispatch(parsed))
}

func (f *fakeCMDB) dispatch(env gjson.Result) fakeResponse {
	id := json.RawMessage(env.Get("id").Raw)
	method := env.Get("method").String()
	params := env.Get("params")

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{ID: env.Get("id").String(), Method: method, Params: params})
	h, ok := f.handlers[method]
	f.mu.Unlock()

	resp := fakeResponse{JSONRPC: "2.0", ID: id}
	if !ok {
		resp.Error = &RPCError{Code: -32601, Message: "Method not found: " + method}
		return resp
	}
	if params.Get("apikey").String() != "test-key" {
		resp.Error = &RPCError{Code: -32604, Message: "Authentication failed"}
		return resp
	}
	v, rpcErr := h(params)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	if v == nil {
		v = []any{}
	}
	resp.Result = v
	return resp
}

// Schema fixtures

type fakeField struct {
	key, title, dataType, infoType string
}

func fieldInfo(fields ...fakeField) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.key] = map[string]any{
			"title": f.title,
			"info":  map[string]any{"type": f.infoType},
			"data":  map[string]any{"type": f.dataType},
		}
	}
	return out
}

var (
	globalFields = fieldInfo(
		fakeField{"title", "Title", "text", "text"},
		fakeField{"description", "Description", "text_area", "textarea"},
		fakeField{"purpose", "Purpose", "int", "dialog"},
		fakeField{"created", "Created", "datetime", "datetime"},
	)
	contactFields = fieldInfo(
		fakeField{"contact_object", "Contact", "int", "object_browser"},
		fakeField{"role", "Role", "int", "dialog"},
		fakeField{"description", "Description", "text_area", "textarea"},
	)
	personFields = fieldInfo(
		fakeField{"title", "Title", "text", "text"},
		fakeField{"first_name", "First name", "text", "text"},
		fakeField{"last_name", "Last name", "text", "text"},
		fakeField{"mail", "E-mail", "text", "text"},
		fakeField{"phone_company", "Telephone company", "text", "text"},
		fakeField{"organization", "Organization", "int", "object_browser"},
		fakeField{"blob", "Unknown", "blob", "binary"},
	)
	accountingFields = fieldInfo(
		fakeField{"price", "Price", "double", "money"},
		fakeField{"acquirementdate", "Acquirement date", "date", "date"},
	)
)

// withSchema registers the type and category schema of a small CMDB:
//
//	C__OBJTYPE__PERSON (53): C__CATG__GLOBAL, C__CATG__CONTACT (multi),
//	                         C__CATS__PERSON, C__CATG__VIRTUAL_BROKEN
//	C__OBJTYPE__SERVER (5):  C__CATG__GLOBAL, C__CATG__ACCOUNTING, C__CATG__LOGBOOK
func (f *fakeCMDB) withSchema() {
	types := []map[string]any{
		{"id": "53", "const": "C__OBJTYPE__PERSON", "title": "Persons", "status": "2", "type_group": "C__OBJTYPE_GROUP__CONTACT", "type_group_title": "Contact"},
		{"id": "5", "const": "C__OBJTYPE__SERVER", "title": "Server", "status": "2", "type_group": "C__OBJTYPE_GROUP__INFRASTRUCTURE", "type_group_title": "Infrastructure"},
	}
	f.handle(MethodObjectTypes, func(p gjson.Result) (any, *RPCError) {
		var out []map[string]any
		for _, t := range types {
			switch {
			case p.Get("filter.id").Exists():
				if t["id"] != p.Get("filter.id").String() {
					continue
				}
			case p.Get("filter.const").Exists():
				if t["const"] != p.Get("filter.const").String() {
					continue
				}
			}
			out = append(out, t)
		}
		return out, nil
	})

	inclusions := map[string]map[string]any{
		"53": {
			"catg": []map[string]any{
				{"id": "1", "const": "C__CATG__GLOBAL", "multi_value": "0", "source_table": "isys_catg_global"},
				{"id": "30", "const": "C__CATG__CONTACT", "multi_value": "1", "source_table": "isys_catg_contact"},
				{"id": "99", "const": "C__CATG__VIRTUAL_BROKEN", "multi_value": "0"},
			},
			"cats": []map[string]any{
				{"id": "48", "const": "C__CATS__PERSON", "multi_value": "0", "source_table": "isys_cats_person"},
			},
		},
		"5": {
			"catg": []map[string]any{
				{"id": "1", "const": "C__CATG__GLOBAL", "multi_value": "0"},
				{"id": "16", "const": "C__CATG__ACCOUNTING", "multi_value": "0"},
				{"id": "22", "const": "C__CATG__LOGBOOK", "multi_value": "1"},
			},
		},
	}
	f.handle(MethodObjectTypeCategories, func(p gjson.Result) (any, *RPCError) {
		inc, ok := inclusions[p.Get("type").String()]
		if !ok {
			return nil, &RPCError{Code: -32099, Message: "unknown type"}
		}
		return inc, nil
	})

	globals := map[string]any{
		"1":  globalFields,
		"30": contactFields,
		"16": accountingFields,
		"22": fieldInfo(fakeField{"event", "Event", "text", "text"}),
	}
	specifics := map[string]any{
		"48": personFields,
	}
	f.handle(MethodCategoryInfo, func(p gjson.Result) (any, *RPCError) {
		switch {
		case p.Get("catgID").Exists():
			if info, ok := globals[p.Get("catgID").String()]; ok {
				return info, nil
			}
		case p.Get("catsID").Exists():
			if info, ok := specifics[p.Get("catsID").String()]; ok {
				return info, nil
			}
		}
		return nil, &RPCError{Code: -32099, Message: "Virtual category is not supported"}
	})
}

// withObjects registers cmdb.objects and cmdb.category over an in-memory
// data set keyed by object id and category constant.
func (f *fakeCMDB) withObjects(rows []map[string]any, data map[int64]map[string]any) {
	f.handle(MethodObjects, func(p gjson.Result) (any, *RPCError) {
		var out []map[string]any
		ids := map[int64]bool{}
		for _, id := range p.Get("filter.ids").Array() {
			ids[id.Int()] = true
		}
		typeFilter := p.Get("filter.type").String()
		for _, row := range rows {
			id, _ := strconv.ParseInt(fmt.Sprint(row["id"]), 10, 64)
			if len(ids) > 0 && !ids[id] {
				continue
			}
			if typeFilter != "" && row["type_const"] != typeFilter {
				continue
			}
			out = append(out, row)
		}
		return out, nil
	})
	f.handle(MethodCategoryRead, func(p gjson.Result) (any, *RPCError) {
		obj, ok := data[p.Get("objID").Int()]
		if !ok {
			return []any{}, nil
		}
		records, ok := obj[p.Get("category").String()]
		if !ok {
			return []any{}, nil
		}
		return records, nil
	})
}

func personRow(id int64, title string) map[string]any {
	return map[string]any{
		"id":         strconv.FormatInt(id, 10),
		"title":      title,
		"sysid":      fmt.Sprintf("SYSID_%d", id),
		"type":       "53",
		"type_const": "C__OBJTYPE__PERSON",
		"status":     "2",
	}
}
