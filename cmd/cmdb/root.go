// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	idoit "github.com/cau-rz/cmdb-idoit"
)

var (
	// Global flags
	profileName string
	profilePath string
	debug       bool
	showStats   bool

	client *idoit.Client
)

var rootCmd = &cobra.Command{
	Use:   "cmdb",
	Short: "Inspect and query an i-doit CMDB",
	Long: `cmdb talks to the JSON-RPC API of an i-doit CMDB.

Connection settings come from a profile file (cmdbrc.toml, ~/.cmdbrc.toml or
~/.cmdbrc.yaml); CMDB_URL, CMDB_APIKEY, CMDB_USERNAME and CMDB_PASSWORD
override it.

Examples:
  cmdb type list
  cmdb type declaration C__OBJTYPE__PERSON
  cmdb category dialog C__CATG__CONTACT role
  cmdb object load -i 1234 -c C__CATS__PERSON
  cmdb run requests.json`,
	SilenceUsage:      true,
	PersistentPreRunE: connect,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if client == nil {
			return nil
		}
		if showStats {
			st := client.Stats()
			fmt.Fprintf(cmd.ErrOrStderr(), "requests: %d, queries: %d\n", st.Requests, st.Queries)
		}
		return client.Close()
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", idoit.DefaultProfile, "profile to use")
	rootCmd.PersistentFlags().StringVar(&profilePath, "config", "", "profile file path (default: search cmdbrc.toml, ~/.cmdbrc.toml, ~/.cmdbrc.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log requests and schema loading")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "print HTTP requests and JSON-RPC queries sent")
}

func newLogger(w io.Writer) idoit.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
	return idoit.NewZerologLogger(zl)
}

func connect(cmd *cobra.Command, args []string) error {
	path := profilePath
	if path == "" {
		found, err := idoit.FindProfileFile()
		if err != nil {
			return err
		}
		path = found
	}
	p, err := idoit.LoadProfile(path, profileName)
	if err != nil {
		return err
	}
	c, err := idoit.NewClientFromProfile(p, idoit.WithLogger(newLogger(cmd.ErrOrStderr())))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	client = c
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
