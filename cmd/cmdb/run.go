// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	idoit "github.com/cau-rz/cmdb-idoit"
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Send raw JSON-RPC requests from a file",
	Long: `Send raw JSON-RPC requests from a file as one batch.

The file holds either a single request {"method": ..., "params": ...} or an
array of requests that also carry an "id". Failing entries are reported with
their error instead of aborting the batch.`,
	Args: cobra.ExactArgs(1),
	RunE: runRequests,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

type rawRequest struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type runOutput struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *idoit.RPCError `json:"error,omitempty"`
}

func runRequests(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	requests, err := parseRequestFile(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	res, err := client.BatchCall(commandContext(cmd), requests, idoit.OnError(idoit.ErrorPolicyCollect))
	if err != nil {
		return err
	}

	out := make(map[string]runOutput, len(res))
	for id, r := range res {
		out[id] = runOutput{Result: r.Raw, Error: r.Err}
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Request:")
	if err := printJSON(w, requests); err != nil {
		return err
	}
	fmt.Fprintln(w, "Result:")
	return printJSON(w, out)
}

func parseRequestFile(data []byte) (map[string]idoit.Request, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("not valid JSON")
	}

	var raws []rawRequest
	switch v := gjson.ParseBytes(data); {
	case v.IsArray():
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, err
		}
	case v.IsObject():
		var single rawRequest
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, err
		}
		raws = []rawRequest{single}
	default:
		return nil, fmt.Errorf("expected a request object or an array of requests")
	}

	requests := make(map[string]idoit.Request, len(raws))
	for i, r := range raws {
		if r.Method == "" {
			return nil, fmt.Errorf("request %d: method is required", i)
		}
		id := strconv.Itoa(i)
		if len(r.ID) > 0 {
			id = gjson.ParseBytes(r.ID).String()
		}
		if _, dup := requests[id]; dup {
			return nil, fmt.Errorf("request %d: duplicate id %q", i, id)
		}
		var params any
		if len(r.Params) > 0 {
			params = r.Params
		}
		requests[id] = idoit.Request{Method: r.Method, Params: params}
	}
	return requests, nil
}
