// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

type categoryKey struct {
	kind CategoryKind
	id   int64
}

// schemaCache holds the schema metadata of one client session.
//
// Every entry is either absent, loading, cached or unresolvable. A cached or
// unresolvable entry stays so until reset. Loads that started before a reset
// do not store their results.
type schemaCache struct {
	mu    sync.RWMutex
	group singleflight.Group

	types      map[int64]*Type
	typeConsts map[string]int64

	categories   map[string]*Category
	categoryIDs  map[categoryKey]string
	unresolvable map[string]error
	loading      map[string]chan struct{}

	version string
	rules   *RuleTable

	generation uint64
}

func newSchemaCache() *schemaCache {
	s := &schemaCache{}
	s.clear()
	return s
}

func (s *schemaCache) clear() {
	s.types = make(map[int64]*Type)
	s.typeConsts = make(map[string]int64)
	s.categories = make(map[string]*Category)
	s.categoryIDs = make(map[categoryKey]string)
	s.unresolvable = make(map[string]error)
	s.version = ""
	s.rules = nil
}

// do runs fn once per key across concurrent callers. fn gets a context that
// is not canceled with the caller's, so one caller giving up does not fail
// the others waiting on the same key.
func (s *schemaCache) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(flightCtx)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// reset forgets everything. Loads in flight finish but are not stored.
func (s *schemaCache) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
	s.generation++
}

func (s *schemaCache) gen() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// flightKey scopes a single-flight key to the current generation.
func (s *schemaCache) flightKey(key string) (string, uint64) {
	gen := s.gen()
	return key + "@" + strconv.FormatUint(gen, 10), gen
}

func (s *schemaCache) storeVersion(gen uint64, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		s.version = version
	}
}

func (s *schemaCache) storeRules(gen uint64, table *RuleTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		s.rules = table
	}
}

func (s *schemaCache) lookupType(idOrConst string) (*Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, err := strconv.ParseInt(idOrConst, 10, 64); err == nil {
		t, ok := s.types[id]
		return t, ok
	}
	id, ok := s.typeConsts[idOrConst]
	if !ok {
		return nil, false
	}
	t, ok := s.types[id]
	return t, ok
}

// storeType caches t unless a load by the other key (id or constant) got
// there first. It returns the instance callers must use.
func (s *schemaCache) storeType(gen uint64, t *Type) *Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return t
	}
	if cached, ok := s.types[t.ID]; ok {
		return cached
	}
	s.types[t.ID] = t
	s.typeConsts[t.Const] = t.ID
	return t
}

// lookupCategory returns a cached category, or the cause if the category
// is unresolvable. ok is false on a miss.
func (s *schemaCache) lookupCategory(categoryConst string) (*Category, error, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cat, ok := s.categories[categoryConst]; ok {
		return cat, nil, true
	}
	if cause, ok := s.unresolvable[categoryConst]; ok {
		return nil, &UnsupportedCategoryError{Category: categoryConst, Err: cause}, true
	}
	return nil, nil, false
}

func (s *schemaCache) categoryByID(kind CategoryKind, id int64) (*Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	categoryConst, ok := s.categoryIDs[categoryKey{kind, id}]
	if !ok {
		return nil, false
	}
	cat, ok := s.categories[categoryConst]
	return cat, ok
}

func (s *schemaCache) storeCategory(gen uint64, cat *Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	if _, ok := s.categories[cat.Const]; ok {
		return
	}
	s.categories[cat.Const] = cat
	if cat.ID != 0 {
		s.categoryIDs[categoryKey{cat.Kind, cat.ID}] = cat.Const
	}
}

func (s *schemaCache) markUnresolvable(gen uint64, categoryConst string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.unresolvable[categoryConst] = cause
}

// claim marks the given category constants as loading by the caller.
//
// It returns the constants the caller now owns and must release, and the
// wait channels of loads owned by someone else. Cached and unresolvable
// constants are skipped.
func (s *schemaCache) claim(consts []string) ([]string, []chan struct{}, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mine []string
	var waits []chan struct{}
	for _, c := range consts {
		if _, ok := s.categories[c]; ok {
			continue
		}
		if _, ok := s.unresolvable[c]; ok {
			continue
		}
		if ch, ok := s.loading[c]; ok {
			waits = append(waits, ch)
			continue
		}
		if s.loading == nil {
			s.loading = make(map[string]chan struct{})
		}
		s.loading[c] = make(chan struct{})
		mine = append(mine, c)
	}
	return mine, waits, s.generation
}

// release ends the loads owned by the caller and wakes their waiters.
func (s *schemaCache) release(consts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range consts {
		if ch, ok := s.loading[c]; ok {
			close(ch)
			delete(s.loading, c)
		}
	}
}

// wait blocks until every channel is closed or ctx is done.
func wait(ctx context.Context, waits []chan struct{}) error {
	for _, ch := range waits {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
