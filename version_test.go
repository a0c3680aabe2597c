// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestServerVersion(t *testing.T) {
	f := newFakeCMDB(t)
	f.result(MethodVersion, map[string]any{
		"version": "1.15.2",
		"step":    "",
		"type":    "PRO",
		"login": map[string]any{
			"userid":   "9",
			"name":     "Administrator",
			"mail":     "admin@example.com",
			"username": "admin",
			"mandator": "Main",
			"language": "en",
		},
	})
	client := f.client()

	info, err := client.ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.15.2", info.Version)
	assert.Equal(t, "PRO", info.Type)
	assert.Equal(t, int64(9), info.Login.UserID.Int64())
	assert.Equal(t, "admin", info.Login.Username)
	assert.Equal(t, "Main", info.Login.Tenant)
}

func TestServerVersion_Errors(t *testing.T) {
	t.Run("authentication", func(t *testing.T) {
		f := newFakeCMDB(t)
		f.result(MethodVersion, map[string]any{"version": "1.15"})
		client := f.client(APIKey("wrong"))

		_, err := client.ServerVersion(context.Background())
		var rpcErr *RPCError
		require.True(t, errors.As(err, &rpcErr), "expected *RPCError, got %v", err)
		assert.Equal(t, -32604, rpcErr.Code)
	})

	t.Run("list instead of object", func(t *testing.T) {
		f := newFakeCMDB(t)
		f.handle(MethodVersion, func(gjson.Result) (any, *RPCError) { return []any{}, nil })
		client := f.client()

		_, err := client.ServerVersion(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode "+MethodVersion)
	})
}

func TestDetectAPIVersion(t *testing.T) {
	t.Run("pinned", func(t *testing.T) {
		f := newFakeCMDB(t)
		client := f.client(APIVersion("v1.16.1"))

		v, err := client.DetectAPIVersion(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "1.16", v)
		assert.Zero(t, f.postCount())
	})

	t.Run("asked once", func(t *testing.T) {
		f := newFakeCMDB(t)
		f.result(MethodVersion, map[string]any{"version": "1.14.1", "type": "OPEN"})
		client := f.client(APIVersion(""))
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			v, err := client.DetectAPIVersion(ctx)
			require.NoError(t, err)
			assert.Equal(t, "1.14", v)
		}
		assert.Len(t, f.callsTo(MethodVersion), 1)

		client.ResetSchema()
		_, err := client.DetectAPIVersion(ctx)
		require.NoError(t, err)
		assert.Len(t, f.callsTo(MethodVersion), 2)
	})

	t.Run("malformed server version", func(t *testing.T) {
		f := newFakeCMDB(t)
		f.result(MethodVersion, map[string]any{"version": "unknown"})
		client := f.client(APIVersion(""))

		_, err := client.DetectAPIVersion(context.Background())
		assert.Error(t, err)
	})
}

func TestNormalizeAPIVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1.15", "1.15", false},
		{"1.15.2", "1.15", false},
		{"v1.16", "1.16", false},
		{" 1.14 ", "1.14", false},
		{"1", "", true},
		{"1.x", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeAPIVersion(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
