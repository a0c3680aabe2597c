// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// WatchRules watches the rules directory set with RulesDir and resets the
// schema cache whenever a rule file is written, created, renamed or removed.
// The next schema access rebuilds types and categories with the new rules.
//
// Watching stops when ctx is done or the client is closed.
func (c *Client) WatchRules(ctx context.Context) error {
	if c.rulesDir == "" {
		return errors.New("watch rules: no rules directory configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(c.rulesDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory %s: %w", c.rulesDir, err)
	}

	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() error {
		var err error
		once.Do(func() {
			close(stopCh)
			err = watcher.Close()
		})
		return err
	}

	c.mu.Lock()
	c.watchers = append(c.watchers, stop)
	c.mu.Unlock()

	go c.watchRulesLoop(ctx, watcher, stopCh)

	c.logger.Info(ctx, "watching rules directory",
		"dir", c.rulesDir)
	return nil
}

func (c *Client) watchRulesLoop(ctx context.Context, watcher *fsnotify.Watcher, stopCh <-chan struct{}) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, RuleFileSuffix) {
				continue
			}
			// atomic saves show up as create or rename
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			c.logger.Debug(ctx, "rule file changed",
				"event", event.Op.String(),
				"file", filepath.Base(event.Name))
			c.ResetSchema()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error(ctx, "rules watcher error",
				"error", err.Error())

		case <-ctx.Done():
			watcher.Close()
			return

		case <-stopCh:
			return
		}
	}
}
