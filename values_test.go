// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// testCategory builds a category schema without a server.
func testCategory(categoryConst string, id int64, fields ...*Field) *Category {
	cat := &Category{ID: id, Const: categoryConst, Kind: CategoryGlobal, byKey: map[string]*Field{}}
	for _, f := range fields {
		cat.Fields = append(cat.Fields, f)
		cat.byKey[f.Key] = f
	}
	return cat
}

func contactCategory() *Category {
	return testCategory("C__CATG__CONTACT", 30,
		&Field{Key: "contact_object", Type: AttributeType{Kind: ValueInt}},
		&Field{Key: "role", Type: AttributeType{Kind: ValueDialog}},
		&Field{Key: "description", Type: AttributeType{Kind: ValueText}},
	)
}

func accountingCategory() *Category {
	return testCategory("C__CATG__ACCOUNTING", 16,
		&Field{Key: "price", Type: AttributeType{Kind: ValueMoney}},
		&Field{Key: "acquirementdate", Type: AttributeType{Kind: ValueDate}},
		&Field{Key: "tags", Type: AttributeType{Kind: ValueDialog, List: true}},
	)
}

func TestNewCategoryValues(t *testing.T) {
	v := NewCategoryValues(accountingCategory())

	assert.Zero(t, v.RecordID())
	assert.False(t, v.HasChanged())

	price, err := v.Get("price")
	require.NoError(t, err)
	assert.Nil(t, price)

	tags, err := v.Get("tags")
	require.NoError(t, err)
	assert.Equal(t, []int64{}, tags)

	_, err = v.Get("nope")
	var unknown *UnknownFieldError
	assert.True(t, errors.As(err, &unknown))
}

func TestCategoryValues_Set(t *testing.T) {
	v := NewCategoryValues(accountingCategory())

	require.NoError(t, v.Set("price", 19))
	price, ok := v.Float("price")
	require.True(t, ok)
	assert.Equal(t, 19.0, price)
	assert.True(t, v.HasFieldChanged("price"))
	assert.False(t, v.HasFieldChanged("acquirementdate"))

	require.NoError(t, v.Set("tags", []int{3, 4}))
	tags, _ := v.Get("tags")
	assert.Equal(t, []int64{3, 4}, tags)

	t.Run("type mismatch leaves record untouched", func(t *testing.T) {
		err := v.Set("price", "19,99")
		var typeErr *TypeCheckError
		require.True(t, errors.As(err, &typeErr), "expected *TypeCheckError, got %v", err)
		assert.Equal(t, "price", typeErr.Field)
		got, _ := v.Float("price")
		assert.Equal(t, 19.0, got)
	})

	t.Run("unknown field", func(t *testing.T) {
		var unknown *UnknownFieldError
		assert.True(t, errors.As(v.Set("color", "red"), &unknown))
	})
}

func TestCategoryValues_SetSameValueStaysClean(t *testing.T) {
	v := NewCategoryValues(accountingCategory())
	day := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, v.fill(gjson.Parse(`{"id":"8","price":"19,99 EUR","acquirementdate":"2020-01-02","tags":[]}`)))

	require.NoError(t, v.Set("price", 19.99))
	require.NoError(t, v.Set("acquirementdate", day.In(time.FixedZone("CET", 3600))))
	require.NoError(t, v.Set("tags", []int64{}))
	assert.False(t, v.HasChanged())

	require.NoError(t, v.Set("price", nil))
	assert.True(t, v.HasFieldChanged("price"))
}

func TestCategoryValues_Update(t *testing.T) {
	v := NewCategoryValues(contactCategory())

	err := v.Update(map[string]any{
		"contact_object": 42,
		"role":           "Admin",
	})
	require.Error(t, err)
	assert.False(t, v.HasChanged())

	require.NoError(t, v.Update(map[string]any{
		"contact_object": 42,
		"role":           int32(3),
	}))
	n, ok := v.Int("contact_object")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
	n, _ = v.Int("role")
	assert.Equal(t, int64(3), n)
	assert.True(t, v.HasFieldChanged("role"))
	assert.False(t, v.HasFieldChanged("description"))
}

func TestCategoryValues_DirtyFlags(t *testing.T) {
	v := NewCategoryValues(contactCategory())

	v.MarkChanged()
	for _, key := range v.Category().Keys() {
		assert.True(t, v.HasFieldChanged(key), key)
	}

	v.MarkUnchanged()
	assert.False(t, v.HasChanged())

	require.NoError(t, v.MarkFieldChanged("description"))
	assert.True(t, v.HasFieldChanged("description"))
	assert.Error(t, v.MarkFieldChanged("missing"))
}

func TestCategoryValues_Fill(t *testing.T) {
	v := NewCategoryValues(contactCategory())
	require.NoError(t, v.Set("description", "local"))

	record := gjson.Parse(`{"id":"12","contact_object":{"id":"4711","title":"Müller"},"role":{"id":"3","title":"Admin"}}`)
	require.NoError(t, v.fill(record))

	assert.Equal(t, int64(12), v.RecordID())
	assert.False(t, v.HasChanged())
	n, _ := v.Int("contact_object")
	assert.Equal(t, int64(4711), n)
	desc, err := v.Get("description")
	require.NoError(t, err)
	assert.Nil(t, desc)
}

func TestCategoryValues_FillConversionError(t *testing.T) {
	v := NewCategoryValues(accountingCategory())
	require.NoError(t, v.Set("price", 5))

	err := v.fill(gjson.Parse(`{"id":"1","acquirementdate":"yesterday"}`))
	require.Error(t, err)
	assert.True(t, IsConversionError(err))

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, "acquirementdate", convErr.Field)
	assert.Equal(t, `"yesterday"`, convErr.Raw)

	// failed fill keeps the previous state
	price, _ := v.Float("price")
	assert.Equal(t, 5.0, price)
	assert.True(t, v.HasFieldChanged("price"))
}

func TestCategoryValues_ChangeSet(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		v := NewCategoryValues(accountingCategory())
		require.NoError(t, v.Set("acquirementdate", time.Date(2021, 3, 14, 0, 0, 0, 0, time.UTC)))

		ch := v.ChangeSet()
		assert.Equal(t, ChangeCreate, ch.Method)
		assert.Equal(t, map[string]any{"acquirementdate": "2021-03-14"}, ch.Data)
		assert.Equal(t, map[string]any{
			"objID":    int64(5),
			"category": "C__CATG__ACCOUNTING",
			"data":     map[string]any{"acquirementdate": "2021-03-14"},
		}, ch.Params(5, "C__CATG__ACCOUNTING"))
	})

	t.Run("update", func(t *testing.T) {
		v := NewCategoryValues(accountingCategory())
		require.NoError(t, v.fill(gjson.Parse(`{"id":"9","price":"10"}`)))
		require.NoError(t, v.Set("tags", []int64{1}))

		ch := v.ChangeSet()
		assert.Equal(t, ChangeUpdate, ch.Method)
		assert.Equal(t, int64(9), ch.RecordID)
		params := ch.Params(5, "C__CATG__ACCOUNTING")
		assert.Equal(t, map[string]any{"tags": []any{int64(1)}, "id": int64(9)}, params["data"])
		assert.Equal(t, MethodCategoryUpdate, ch.Method.RPCMethod())
	})

	t.Run("clean record is empty", func(t *testing.T) {
		v := NewCategoryValues(accountingCategory())
		assert.True(t, v.ChangeSet().Empty())
	})

	t.Run("acknowledge assigns id", func(t *testing.T) {
		v := NewCategoryValues(accountingCategory())
		require.NoError(t, v.Set("price", 1.5))
		v.ChangeSet().acknowledge(77)
		assert.Equal(t, int64(77), v.RecordID())
		assert.False(t, v.HasChanged())
	})
}

func TestCategoryValues_MarshalJSON(t *testing.T) {
	v := NewCategoryValues(accountingCategory())
	require.NoError(t, v.fill(gjson.Parse(`{"id":"3","price":"1.234,50 EUR","acquirementdate":"2019-05-01","tags":[{"id":"2"}]}`)))

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"price":1234.5,"acquirementdate":"2019-05-01","tags":[2]}`, string(out))
}

func TestChangeMethod(t *testing.T) {
	tests := []struct {
		method ChangeMethod
		name   string
		rpc    string
	}{
		{ChangeCreate, "create", MethodCategoryCreate},
		{ChangeUpdate, "update", MethodCategoryUpdate},
		{ChangeDelete, "delete", MethodCategoryDelete},
		{ChangeMethod(0), "unknown", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.method.String())
			assert.Equal(t, tt.rpc, tt.method.RPCMethod())
		})
	}
}
