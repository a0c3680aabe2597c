// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestFile(t *testing.T) {
	t.Run("single request", func(t *testing.T) {
		reqs, err := parseRequestFile([]byte(`{"method": "idoit.version"}`))
		require.NoError(t, err)
		require.Len(t, reqs, 1)
		assert.Equal(t, "idoit.version", reqs["0"].Method)
		assert.Nil(t, reqs["0"].Params)
	})

	t.Run("array with ids", func(t *testing.T) {
		reqs, err := parseRequestFile([]byte(`[
			{"id": "ver", "method": "idoit.version"},
			{"id": 7, "method": "cmdb.category.read", "params": {"objID": 7, "category": "C__CATG__GLOBAL"}},
			{"method": "cmdb.object_types"}
		]`))
		require.NoError(t, err)
		require.Len(t, reqs, 3)
		assert.Contains(t, reqs, "ver")
		assert.Contains(t, reqs, "2", "entries without id are keyed by position")

		raw, ok := reqs["7"].Params.(json.RawMessage)
		require.True(t, ok)
		assert.JSONEq(t, `{"objID": 7, "category": "C__CATG__GLOBAL"}`, string(raw))
	})

	tests := []struct {
		name string
		data string
		want string
	}{
		{"invalid json", `{"method":`, "not valid JSON"},
		{"scalar", `42`, "expected a request object"},
		{"missing method", `[{"id": 1}]`, "request 0: method is required"},
		{"duplicate id", `[{"id": "a", "method": "x"}, {"id": "a", "method": "y"}]`, `duplicate id "a"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRequestFile([]byte(tt.data))
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.want)
			}
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
