// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default client configuration values
const (
	DefaultMaxRetries         = 2
	DefaultBackoffMinDelay    = 500 * time.Millisecond
	DefaultBackoffMaxDelay    = 10 * time.Second
	DefaultBackoffDelayFactor = 2
	DefaultOperationTimeout   = 60 * time.Second
	DefaultVerifyCertificate  = true
	DefaultPrettyPrintLogs    = false
	DefaultMaxBatchSize       = 256
	DefaultParallelChunks     = 1
)

// DefaultReadOnlyCategories are never written by Object.Save.
var DefaultReadOnlyCategories = []string{"C__CATG__LOGBOOK"}

// Security limits for JSON processing and logging
const (
	MaxJSONSizeForLogging = 1 * 1024 * 1024
	MaxSensitiveFields    = 1000
)

// Logging message constants
const (
	JSONTooLargeMessage     = "[JSON TOO LARGE FOR LOGGING]"
	JSONTooManySensitiveMsg = "[JSON CONTAINS TOO MANY SENSITIVE FIELDS]"
)

var sensitiveKeys = []string{"apikey", "password", "secret", "token"}

// defaultRedactionPatterns match the sensitiveKeys, in the same order.
var defaultRedactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"apikey"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`"password"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`"secret"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`"token"\s*:\s*"[^"]*"`),
}

// Client talks JSON-RPC 2.0 to an i-doit instance and owns the schema cache
// of the session.
//
// A Client is safe for concurrent use. Objects and category values obtained
// from it are not; each has a single owner.
type Client struct {
	// URL of the JSON-RPC endpoint, e.g. https://cmdb.example.com/src/jsonrpc.php
	URL string

	apiKey   string // unexported for security
	username string // unexported for security
	password string // unexported for security

	// TLS options
	VerifyCertificate bool

	// Timeout per HTTP round trip
	OperationTimeout time.Duration

	// Retry configuration for transient HTTP statuses
	MaxRetries         int
	BackoffMinDelay    time.Duration
	BackoffMaxDelay    time.Duration
	BackoffDelayFactor float64

	// Batching
	MaxBatchSize   int
	ParallelChunks int

	// Categories skipped by Object.Save
	ReadOnlyCategories []string

	httpClient *http.Client

	// Rule table sources and pinned API version
	rulesFS    fs.FS
	rulesDir   string
	apiVersion string

	schema *schemaCache

	metrics    *Metrics
	registerer prometheus.Registerer

	// Logging configuration
	logger            Logger
	prettyPrintLogs   bool
	redactionPatterns []*regexp.Regexp

	mu       sync.Mutex
	watchers []func() error
}

// NewClient creates a new client for the given JSON-RPC endpoint URL
//
// No network traffic happens on construction. Schema information is fetched
// lazily on first use and cached for the lifetime of the client.
//
// Example:
//
//	client, err := idoit.NewClient(
//	    "https://cmdb.example.com/src/jsonrpc.php",
//	    idoit.APIKey("c1ia5q"),
//	    idoit.Username("admin"),
//	    idoit.Password("secret"),
//	    idoit.MaxBatchSize(128),
//	)
//	if err != nil {
//	    log.Fatal(err) // configuration error
//	}
//	defer client.Close()
//
//	obj, err := client.LoadObject(ctx, 1234)
//
// Returns a configured Client or an error if configuration validation fails.
func NewClient(endpoint string, opts ...func(*Client)) (*Client, error) {
	client := &Client{
		URL:                endpoint,
		VerifyCertificate:  DefaultVerifyCertificate,
		OperationTimeout:   DefaultOperationTimeout,
		MaxRetries:         DefaultMaxRetries,
		BackoffMinDelay:    DefaultBackoffMinDelay,
		BackoffMaxDelay:    DefaultBackoffMaxDelay,
		BackoffDelayFactor: DefaultBackoffDelayFactor,
		MaxBatchSize:       DefaultMaxBatchSize,
		ParallelChunks:     DefaultParallelChunks,
		ReadOnlyCategories: append([]string(nil), DefaultReadOnlyCategories...),
		logger:             &NoOpLogger{},
		prettyPrintLogs:    DefaultPrettyPrintLogs,
		redactionPatterns:  defaultRedactionPatterns,
		schema:             newSchemaCache(),
	}

	for _, opt := range opts {
		opt(client)
	}

	if err := client.validateConfig(); err != nil {
		return nil, err
	}

	if client.httpClient == nil {
		client.httpClient = client.newHTTPClient()
	}

	if client.registerer == nil {
		client.registerer = prometheus.NewRegistry()
	}
	client.metrics = NewMetrics(client.registerer)

	client.logger.Info(context.Background(), "i-doit client created",
		"url", client.redactedURL(),
		"max_batch_size", client.MaxBatchSize,
		"parallel_chunks", client.ParallelChunks)

	return client, nil
}

func (c *Client) newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !c.VerifyCertificate {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via VerifyCertificate(false)
	}
	return &http.Client{Transport: transport}
}

// Close stops rule watchers and releases idle HTTP connections. The client
// must not be used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	watchers := c.watchers
	c.watchers = nil
	c.mu.Unlock()

	var firstErr error
	for _, stop := range watchers {
		if err := stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.httpClient.CloseIdleConnections()

	c.logger.Info(context.Background(), "i-doit client closed",
		"url", c.redactedURL())

	return firstErr
}

// HasCredentials reports whether an API key or basic auth is configured.
func (c *Client) HasCredentials() bool {
	return c.apiKey != "" || c.username != ""
}

// Stats returns the number of HTTP round trips and JSON-RPC calls so far.
func (c *Client) Stats() Stats {
	return c.metrics.snapshot()
}

// ResetStats sets the counters reported by Stats back to zero. Prometheus
// counters are unaffected.
func (c *Client) ResetStats() {
	c.metrics.reset()
}

// Metrics returns the client's Prometheus collectors.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// ResetSchema drops every cached type, category, unresolvable marker, the
// detected API version and the loaded rule table. Objects loaded before keep
// the category instances they were built with.
func (c *Client) ResetSchema() {
	c.schema.reset()
	c.logger.Info(context.Background(), "schema cache reset")
}

// isReadOnly reports whether Save must skip the category.
func (c *Client) isReadOnly(categoryConst string) bool {
	for _, ro := range c.ReadOnlyCategories {
		if ro == categoryConst {
			return true
		}
	}
	return false
}

// Backoff calculates the exponential backoff delay for a retry attempt.
//
// The delay is BackoffMinDelay * BackoffDelayFactor^attempt, capped at
// BackoffMaxDelay, plus up to 10% jitter from crypto/rand.
func (c *Client) Backoff(attempt int) time.Duration {
	delay := float64(c.baseBackoff(attempt))
	baseDelay := delay

	jitterMax := int64(delay * 0.1)
	var jitterVal int64
	if jitterMax > 0 {
		var jitterBytes [8]byte
		if _, err := rand.Read(jitterBytes[:]); err == nil {
			jitterVal = int64(binary.BigEndian.Uint64(jitterBytes[:])&0x7FFFFFFFFFFFFFFF) % jitterMax
		} else {
			jitterVal = (time.Now().UnixNano()%jitterMax + jitterMax) % jitterMax
			c.logger.Warn(context.Background(), "crypto/rand failed, using timestamp-based jitter",
				"error", err.Error(),
				"attempt", attempt)
		}
		delay += float64(jitterVal)
	}

	finalDelay := time.Duration(delay)

	c.logger.Debug(context.Background(), "Backoff calculated",
		"attempt", attempt,
		"base_delay_ms", time.Duration(baseDelay).Milliseconds(),
		"jitter_ms", time.Duration(jitterVal).Milliseconds(),
		"final_delay_ms", finalDelay.Milliseconds())

	return finalDelay
}

func (c *Client) baseBackoff(attempt int) time.Duration {
	delay := float64(c.BackoffMinDelay) * math.Pow(c.BackoffDelayFactor, float64(attempt))
	if math.IsInf(delay, 1) || delay > float64(c.BackoffMaxDelay) {
		delay = float64(c.BackoffMaxDelay)
	}
	return time.Duration(delay)
}

// calculateTotalTimeout bounds a call including every retry and the
// maximum jittered backoff between attempts.
func (c *Client) calculateTotalTimeout(req *Req) time.Duration {
	perAttempt := c.OperationTimeout
	if req != nil && req.Timeout > 0 {
		perAttempt = req.Timeout
	}
	total := time.Duration(c.MaxRetries+1) * perAttempt
	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		total += c.baseBackoff(attempt) + c.baseBackoff(attempt)/10
	}
	return total
}

// createAttemptContext derives the context of a single HTTP round trip.
//
// Priority: request timeout, then an existing context deadline, then the
// client default OperationTimeout.
func (c *Client) createAttemptContext(ctx context.Context, req *Req) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		if req.Timeout < time.Second {
			c.logger.Warn(ctx, "request timeout is very short (may not complete)",
				"timeout", req.Timeout.String())
		}
		return context.WithTimeout(ctx, req.Timeout)
	}

	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.OperationTimeout)
}

// checkContextCancellation returns the context error if ctx is done.
func checkContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// prepareJSONForLogging redacts credentials and optionally pretty prints a
// JSON document for debug logs.
func (c *Client) prepareJSONForLogging(jsonStr string) string {
	if len(jsonStr) > MaxJSONSizeForLogging {
		return JSONTooLargeMessage
	}

	sensitiveCount := 0
	for _, key := range sensitiveKeys {
		sensitiveCount += strings.Count(jsonStr, `"`+key+`"`)
	}
	if sensitiveCount > MaxSensitiveFields {
		c.logger.Warn(context.Background(), "Too many sensitive fields detected",
			"count", sensitiveCount,
			"max", MaxSensitiveFields)
		return JSONTooManySensitiveMsg
	}

	redacted := c.redactSensitiveData(jsonStr)

	if c.prettyPrintLogs {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(redacted), "", "  "); err == nil {
			return buf.String()
		}
	}

	return redacted
}

func (c *Client) redactSensitiveData(s string) string {
	result := s
	for i, pattern := range c.redactionPatterns {
		key := "value"
		if i < len(sensitiveKeys) {
			key = sensitiveKeys[i]
		}
		result = pattern.ReplaceAllString(result, `"`+key+`":"[REDACTED]"`)
	}
	return result
}

// redactedURL strips user info from the endpoint for logging.
func (c *Client) redactedURL() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "[INVALID URL]"
	}
	u.User = nil
	return u.String()
}

func (c *Client) validateConfig() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url scheme: %q (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url must contain a host")
	}

	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive, got: %v", c.OperationTimeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got: %d", c.MaxRetries)
	}
	if c.BackoffMinDelay <= 0 {
		return fmt.Errorf("backoff min delay must be positive, got: %v", c.BackoffMinDelay)
	}
	if c.BackoffMaxDelay <= c.BackoffMinDelay {
		return fmt.Errorf("backoff max delay (%v) must be greater than min delay (%v)",
			c.BackoffMaxDelay, c.BackoffMinDelay)
	}
	if c.BackoffDelayFactor < 1.0 {
		return fmt.Errorf("backoff delay factor must be >= 1.0, got: %f", c.BackoffDelayFactor)
	}

	if c.MaxBatchSize < 1 {
		return fmt.Errorf("max batch size must be positive, got: %d", c.MaxBatchSize)
	}
	if c.ParallelChunks < 1 {
		return fmt.Errorf("parallel chunks must be positive, got: %d", c.ParallelChunks)
	}

	if c.apiVersion != "" {
		if _, err := normalizeAPIVersion(c.apiVersion); err != nil {
			return err
		}
	}

	if !c.VerifyCertificate && u.Scheme == "https" {
		c.logger.Warn(context.Background(), "TLS certificate verification disabled",
			"url", c.redactedURL(),
			"security_risk", "Man-in-the-Middle attacks possible")
	}

	if u.Scheme == "http" && c.HasCredentials() {
		c.logger.Warn(context.Background(), "credentials sent over plain HTTP",
			"url", c.redactedURL())
	}

	if !c.HasCredentials() {
		c.logger.Warn(context.Background(), "No credentials configured",
			"url", c.redactedURL(),
			"message", "server may reject requests")
	}

	return nil
}
