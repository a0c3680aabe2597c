// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultProfile is the profile used when none is named.
const DefaultProfile = "main"

// Environment variables that override profile settings
const (
	EnvURL      = "CMDB_URL"
	EnvAPIKey   = "CMDB_APIKEY"
	EnvUsername = "CMDB_USERNAME"
	EnvPassword = "CMDB_PASSWORD"
)

// Profile holds the connection settings of one i-doit instance.
type Profile struct {
	Name         string
	URL          string
	APIKey       string
	Username     string
	Password     string
	Verify       *bool
	Timeout      time.Duration
	MaxBatchSize int
	RulesDir     string
	APIVersion   string
}

// profileFile is the on-disk form of a profile. Tables (TOML) or mappings
// (YAML) are named by profile:
//
//	[main]
//	url = "https://cmdb.example.com/src/jsonrpc.php"
//	apikey = "c1ia5q"
//	timeout = "30s"
type profileFile struct {
	URL          string `toml:"url" yaml:"url"`
	APIKey       string `toml:"apikey" yaml:"apikey"`
	Username     string `toml:"username" yaml:"username"`
	Password     string `toml:"password" yaml:"password"`
	Verify       *bool  `toml:"verify" yaml:"verify"`
	Timeout      string `toml:"timeout" yaml:"timeout"`
	MaxBatchSize int    `toml:"max_batch_size" yaml:"max_batch_size"`
	RulesDir     string `toml:"rules_dir" yaml:"rules_dir"`
	APIVersion   string `toml:"api_version" yaml:"api_version"`
}

// LoadProfiles reads every profile of a file. Files ending in .yaml or .yml
// are YAML, everything else TOML.
func LoadProfiles(path string) (map[string]Profile, error) {
	raw := make(map[string]profileFile)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load profiles (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse profiles (%s): %w", path, err)
		}
	default:
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return nil, fmt.Errorf("parse profiles (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse profiles (%s): unknown key %s", path, undecoded[0])
		}
	}

	profiles := make(map[string]Profile, len(raw))
	for name, pf := range raw {
		p := Profile{
			Name:         name,
			URL:          strings.TrimSpace(pf.URL),
			APIKey:       pf.APIKey,
			Username:     pf.Username,
			Password:     pf.Password,
			Verify:       pf.Verify,
			MaxBatchSize: pf.MaxBatchSize,
			RulesDir:     pf.RulesDir,
			APIVersion:   pf.APIVersion,
		}
		if s := strings.TrimSpace(pf.Timeout); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("profile %s: parse timeout: %w", name, err)
			}
			p.Timeout = d
		}
		profiles[name] = p
	}
	return profiles, nil
}

// LoadProfile reads the named profile from path and applies environment
// overrides. An empty name selects DefaultProfile.
func LoadProfile(path, name string) (Profile, error) {
	if name == "" {
		name = DefaultProfile
	}
	profiles, err := LoadProfiles(path)
	if err != nil {
		return Profile{}, err
	}
	p, ok := profiles[name]
	if !ok {
		names := make([]string, 0, len(profiles))
		for n := range profiles {
			names = append(names, n)
		}
		sort.Strings(names)
		return Profile{}, fmt.Errorf("profile %q not found in %s (available: %s)", name, path, strings.Join(names, ", "))
	}
	p.ApplyEnv()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// FindProfileFile returns the first existing profile file of ./cmdbrc.toml,
// ./cmdbrc.yaml, ~/.cmdbrc.toml, ~/.cmdbrc.yaml and ~/.cmdbrc.yml.
func FindProfileFile() (string, error) {
	candidates := []string{"cmdbrc.toml", "cmdbrc.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{".cmdbrc.toml", ".cmdbrc.yaml", ".cmdbrc.yml"} {
			candidates = append(candidates, filepath.Join(home, name))
		}
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("no profile file found (tried %s)", strings.Join(candidates, ", "))
}

// ApplyEnv overrides settings from CMDB_URL, CMDB_APIKEY, CMDB_USERNAME and
// CMDB_PASSWORD when set.
func (p *Profile) ApplyEnv() {
	for env, dst := range map[string]*string{
		EnvURL:      &p.URL,
		EnvAPIKey:   &p.APIKey,
		EnvUsername: &p.Username,
		EnvPassword: &p.Password,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}

// Validate checks the profile for obvious mistakes.
func (p Profile) Validate() error {
	if p.URL == "" {
		return fmt.Errorf("profile %s: url is required", p.Name)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("profile %s: timeout must not be negative", p.Name)
	}
	if p.MaxBatchSize < 0 {
		return fmt.Errorf("profile %s: max_batch_size must not be negative", p.Name)
	}
	return nil
}

// ClientOptions turns the profile into client options.
func (p Profile) ClientOptions() []func(*Client) {
	var opts []func(*Client)
	if p.APIKey != "" {
		opts = append(opts, APIKey(p.APIKey))
	}
	if p.Username != "" {
		opts = append(opts, Username(p.Username), Password(p.Password))
	}
	if p.Verify != nil {
		opts = append(opts, VerifyCertificate(*p.Verify))
	}
	if p.Timeout > 0 {
		opts = append(opts, OperationTimeout(p.Timeout))
	}
	if p.MaxBatchSize > 0 {
		opts = append(opts, MaxBatchSize(p.MaxBatchSize))
	}
	if p.RulesDir != "" {
		opts = append(opts, RulesDir(p.RulesDir))
	}
	if p.APIVersion != "" {
		opts = append(opts, APIVersion(p.APIVersion))
	}
	return opts
}

// NewClientFromProfile creates a client from a profile. Extra options are
// applied after the profile's.
//
// Example:
//
//	p, err := idoit.LoadProfile(os.ExpandEnv("$HOME/.cmdbrc.toml"), "main")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := idoit.NewClientFromProfile(p, idoit.WithLogger(logger))
func NewClientFromProfile(p Profile, opts ...func(*Client)) (*Client, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return NewClient(p.URL, append(p.ClientOptions(), opts...)...)
}
