// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Client configuration options using the functional options pattern

// APIKey sets the API key merged into every request's params
func APIKey(key string) func(*Client) {
	return func(c *Client) {
		c.apiKey = key
	}
}

// Username sets the username for HTTP basic authentication
func Username(username string) func(*Client) {
	return func(c *Client) {
		c.username = username
	}
}

// Password sets the password for HTTP basic authentication
func Password(password string) func(*Client) {
	return func(c *Client) {
		c.password = password
	}
}

// VerifyCertificate enables or disables TLS certificate verification (default: true)
//
// WARNING: Disabling certificate verification makes the connection vulnerable
// to Man-in-the-Middle attacks. Only use this against test instances.
//
// Example:
//
//	client, _ := idoit.NewClient("https://cmdb.test/src/jsonrpc.php",
//	    idoit.APIKey(key),
//	    idoit.VerifyCertificate(false))
func VerifyCertificate(verify bool) func(*Client) {
	return func(c *Client) {
		c.VerifyCertificate = verify
	}
}

// HTTPClient replaces the underlying HTTP client. VerifyCertificate has no
// effect on a supplied client.
func HTTPClient(hc *http.Client) func(*Client) {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// OperationTimeout sets the timeout per HTTP round trip (default: 60s)
func OperationTimeout(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.OperationTimeout = duration
	}
}

// MaxRetries sets the maximum number of retries for transient HTTP statuses (default: 2)
func MaxRetries(retries int) func(*Client) {
	return func(c *Client) {
		c.MaxRetries = retries
	}
}

// BackoffMinDelay sets the minimum backoff delay (default: 500ms)
func BackoffMinDelay(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.BackoffMinDelay = duration
	}
}

// BackoffMaxDelay sets the maximum backoff delay (default: 10s)
func BackoffMaxDelay(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.BackoffMaxDelay = duration
	}
}

// BackoffDelayFactor sets the backoff multiplication factor (default: 2.0)
func BackoffDelayFactor(factor float64) func(*Client) {
	return func(c *Client) {
		c.BackoffDelayFactor = factor
	}
}

// MaxBatchSize sets the maximum number of calls per HTTP round trip (default: 256)
//
// Larger batches are split into ceil(N/size) chunks.
func MaxBatchSize(size int) func(*Client) {
	return func(c *Client) {
		c.MaxBatchSize = size
	}
}

// ParallelChunks sets how many chunks of a split batch are in flight at once
// (default: 1, sequential)
func ParallelChunks(n int) func(*Client) {
	return func(c *Client) {
		c.ParallelChunks = n
	}
}

// ReadOnlyCategories replaces the list of categories Object.Save never writes
// (default: C__CATG__LOGBOOK)
func ReadOnlyCategories(consts ...string) func(*Client) {
	return func(c *Client) {
		c.ReadOnlyCategories = append([]string(nil), consts...)
	}
}

// APIVersion pins the server API version ("major.minor") used to select the
// rule table, skipping version detection.
func APIVersion(version string) func(*Client) {
	return func(c *Client) {
		c.apiVersion = version
	}
}

// RulesDir loads rule tables from <dir>/<major.minor>.rules instead of the
// embedded defaults. WatchRules reloads them on change.
func RulesDir(dir string) func(*Client) {
	return func(c *Client) {
		c.rulesDir = dir
	}
}

// RulesFS loads rule tables from <major.minor>.rules in the given file system.
func RulesFS(fsys fs.FS) func(*Client) {
	return func(c *Client) {
		c.rulesFS = fsys
	}
}

// WithMetricsRegistry registers the client's Prometheus collectors with reg
// (default: a private registry)
//
// Example:
//
//	client, _ := idoit.NewClient(url,
//	    idoit.APIKey(key),
//	    idoit.WithMetricsRegistry(prometheus.DefaultRegisterer))
func WithMetricsRegistry(reg prometheus.Registerer) func(*Client) {
	return func(c *Client) {
		c.registerer = reg
	}
}

// WithLogger configures a custom logger for the client
//
// By default, the client uses NoOpLogger which discards all log messages.
// Request and response bodies are logged at Debug level with the API key and
// passwords redacted.
//
// Example:
//
//	logger := idoit.NewDefaultLogger(idoit.LogLevelInfo)
//	client, _ := idoit.NewClient(url,
//	    idoit.APIKey(key),
//	    idoit.WithLogger(logger))
func WithLogger(logger Logger) func(*Client) {
	return func(c *Client) {
		if logger == nil {
			logger = &NoOpLogger{}
		}
		c.logger = logger
	}
}

// WithPrettyPrintLogs enables/disables JSON pretty printing in debug logs
// (default: disabled)
func WithPrettyPrintLogs(enabled bool) func(*Client) {
	return func(c *Client) {
		c.prettyPrintLogs = enabled
	}
}
