// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

//go:embed rules/*.rules
var embeddedRules embed.FS

// RuleFileSuffix is appended to the API version to name a rule file.
const RuleFileSuffix = ".rules"

// Rule overrides the type of one field and says where its value sits in the
// wire data.
type Rule struct {
	Category string
	Field    string
	Type     AttributeType

	// Expr is the path expression as written, e.g. "$[*].id"
	Expr string

	// Path is Expr compiled to a gjson path; empty selects the whole value
	Path string

	wildcard bool
	line     int
}

// Extract returns every value the rule's path selects from raw.
func (r *Rule) Extract(raw gjson.Result) []gjson.Result {
	if r.Path == "" {
		return []gjson.Result{raw}
	}
	res := raw.Get(r.Path)
	if !res.Exists() {
		return nil
	}
	if r.wildcard && res.IsArray() {
		var out []gjson.Result
		for _, elem := range res.Array() {
			if elem.Exists() && elem.Type != gjson.Null {
				out = append(out, elem)
			}
		}
		return out
	}
	return []gjson.Result{res}
}

type ruleKey struct {
	category string
	field    string
}

// RuleTable maps (category constant, field key) onto rules for one API
// version.
type RuleTable struct {
	Version string
	rules   map[ruleKey]*Rule
}

// Lookup finds the rule of a field. It is safe on a nil table.
func (t *RuleTable) Lookup(category, field string) (*Rule, bool) {
	if t == nil {
		return nil, false
	}
	r, ok := t.rules[ruleKey{category, field}]
	return r, ok
}

// Len returns the number of rules.
func (t *RuleTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

// Rules returns all rules ordered by category and field.
func (t *RuleTable) Rules() []*Rule {
	if t == nil {
		return nil
	}
	out := make([]*Rule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// ParseRules reads a rule table.
//
// Each non-empty line not starting with '#' holds four whitespace separated
// columns:
//
//	category_const field_key type_tag path_expression
//
// type_tag is a kind ("int", "text", "double", "money", "date", "datetime",
// "gps", "dialog"), optionally list-wrapped as "[]int". path_expression is
// JSONPath-like: "$" (whole value), "$.a.b", "$[*].id", "$.a[0]",
// "$['key with space']".
//
// Example:
//
//	C__CATG__CONTACT  contact_object  int     $.id
//	C__CATS__PERSON   organization    int     $.id
//	C__CATG__GLOBAL   tag             []text  $[*].title
func ParseRules(r io.Reader, version string) (*RuleTable, error) {
	table := &RuleTable{Version: version, rules: make(map[ruleKey]*Rule)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cols := strings.Fields(line)
		if len(cols) < 4 {
			return nil, fmt.Errorf("rules %s line %d: expected 4 columns, got %d", version, lineNo, len(cols))
		}

		typ, err := ParseAttributeType(cols[2])
		if err != nil {
			return nil, fmt.Errorf("rules %s line %d: %w", version, lineNo, err)
		}

		expr := strings.Join(cols[3:], " ")
		path, wildcard, err := compileRulePath(expr)
		if err != nil {
			return nil, fmt.Errorf("rules %s line %d: %w", version, lineNo, err)
		}

		key := ruleKey{cols[0], cols[1]}
		if prev, dup := table.rules[key]; dup {
			return nil, fmt.Errorf("rules %s line %d: duplicate rule for %s.%s (first on line %d)",
				version, lineNo, cols[0], cols[1], prev.line)
		}
		table.rules[key] = &Rule{
			Category: cols[0],
			Field:    cols[1],
			Type:     typ,
			Expr:     expr,
			Path:     path,
			wildcard: wildcard,
			line:     lineNo,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("rules %s: %w", version, err)
	}
	return table, nil
}

// compileRulePath translates a JSONPath-like expression into a gjson path.
func compileRulePath(expr string) (string, bool, error) {
	if !strings.HasPrefix(expr, "$") {
		return "", false, fmt.Errorf("path %q must start with $", expr)
	}
	rest := expr[1:]
	var segments []string
	wildcard := false

	for len(rest) > 0 {
		switch {
		case strings.HasPrefix(rest, ".."):
			return "", false, fmt.Errorf("path %q: recursive descent is not supported", expr)
		case rest[0] == '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			name := rest[:end]
			if name == "" {
				return "", false, fmt.Errorf("path %q: empty member name", expr)
			}
			if name == "*" {
				segments = append(segments, "#")
				wildcard = true
			} else {
				segments = append(segments, escapePathSegment(name))
			}
			rest = rest[end:]
		case rest[0] == '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return "", false, fmt.Errorf("path %q: unterminated [", expr)
			}
			inner := strings.TrimSpace(rest[1:end])
			rest = rest[end+1:]
			switch {
			case inner == "*":
				segments = append(segments, "#")
				wildcard = true
			case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0]:
				segments = append(segments, escapePathSegment(inner[1:len(inner)-1]))
			default:
				n, err := strconv.Atoi(inner)
				if err != nil || n < 0 {
					return "", false, fmt.Errorf("path %q: invalid index [%s]", expr, inner)
				}
				segments = append(segments, strconv.Itoa(n))
			}
		default:
			return "", false, fmt.Errorf("path %q: unexpected %q", expr, rest[0])
		}
	}

	return strings.Join(segments, "."), wildcard, nil
}

// escapePathSegment escapes gjson's special characters in a member name.
func escapePathSegment(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '.', '*', '?', '#', '|', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

// rulesSource returns the file system rule tables are read from.
func (c *Client) rulesSource() fs.FS {
	switch {
	case c.rulesFS != nil:
		return c.rulesFS
	case c.rulesDir != "":
		return os.DirFS(c.rulesDir)
	default:
		sub, err := fs.Sub(embeddedRules, "rules")
		if err != nil {
			return embeddedRules
		}
		return sub
	}
}

// RuleTable returns the rule table for the server's API version, loading it
// on first use. A missing rule file yields an empty table.
func (c *Client) RuleTable(ctx context.Context) (*RuleTable, error) {
	c.schema.mu.RLock()
	table := c.schema.rules
	c.schema.mu.RUnlock()
	if table != nil {
		return table, nil
	}

	key, gen := c.schema.flightKey("rules")
	v, err := c.schema.do(ctx, key, func(ctx context.Context) (any, error) {
		version, err := c.DetectAPIVersion(ctx)
		if err != nil {
			return nil, err
		}
		table, err := c.loadRuleTable(ctx, version)
		if err != nil {
			return nil, err
		}
		c.schema.storeRules(gen, table)
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RuleTable), nil
}

func (c *Client) loadRuleTable(ctx context.Context, version string) (*RuleTable, error) {
	name := version + RuleFileSuffix
	f, err := c.rulesSource().Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn(ctx, "no mapping rules for API version, using type fallback only",
			"version", version,
			"file", name)
		return &RuleTable{Version: version, rules: map[ruleKey]*Rule{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open rules %s: %w", name, err)
	}
	defer f.Close()

	table, err := ParseRules(f, version)
	if err != nil {
		return nil, err
	}
	c.logger.Info(ctx, "mapping rules loaded",
		"version", version,
		"rules", table.Len())
	return table, nil
}
