// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// VersionInfo is the answer of idoit.version.
type VersionInfo struct {
	Version string       `json:"version"`
	Step    string       `json:"step"`
	Type    string       `json:"type"`
	Login   VersionLogin `json:"login"`
}

// VersionLogin describes the user the API key authenticates as.
type VersionLogin struct {
	UserID   FlexInt `json:"userid"`
	Name     string  `json:"name"`
	Mail     string  `json:"mail"`
	Username string  `json:"username"`
	Tenant   string  `json:"mandator"`
	Language string  `json:"language"`
}

// ServerVersion asks the server for its version and login information.
func (c *Client) ServerVersion(ctx context.Context) (VersionInfo, error) {
	res, err := c.Call(ctx, MethodVersion, nil)
	if err != nil {
		return VersionInfo{}, err
	}
	var info VersionInfo
	if !res.Exists() {
		return info, &TransportError{Operation: "call " + MethodVersion, Message: "empty version response"}
	}
	if err := res.Unmarshal(&info); err != nil {
		return info, fmt.Errorf("decode %s: %w", MethodVersion, err)
	}
	return info, nil
}

// DetectAPIVersion returns the "major.minor" version that selects the rule
// table. A version pinned with APIVersion is returned without network
// traffic; otherwise the server is asked once and the answer is memoized
// until ResetSchema.
func (c *Client) DetectAPIVersion(ctx context.Context) (string, error) {
	if c.apiVersion != "" {
		return normalizeAPIVersion(c.apiVersion)
	}

	c.schema.mu.RLock()
	version := c.schema.version
	c.schema.mu.RUnlock()
	if version != "" {
		return version, nil
	}

	key, gen := c.schema.flightKey("version")
	v, err := c.schema.do(ctx, key, func(ctx context.Context) (any, error) {
		info, err := c.ServerVersion(ctx)
		if err != nil {
			return "", err
		}
		version, err := normalizeAPIVersion(info.Version)
		if err != nil {
			return "", err
		}
		c.schema.storeVersion(gen, version)
		c.logger.Info(ctx, "detected i-doit version",
			"version", info.Version,
			"edition", info.Type,
			"rules", version)
		return version, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// normalizeAPIVersion reduces "1.15.2" (or "v1.15") to "1.15".
func normalizeAPIVersion(v string) (string, error) {
	s := strings.TrimPrefix(strings.TrimSpace(v), "v")
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("invalid api version %q: expected major.minor", v)
	}
	for _, p := range parts[:2] {
		if _, err := strconv.Atoi(p); err != nil {
			return "", fmt.Errorf("invalid api version %q: %q is not a number", v, p)
		}
	}
	return parts[0] + "." + parts[1], nil
}
