// Package transport performs the HTTP round-trip for provider requests by
// driving an external curl process. Keeping the subprocess here means the
// dispatchers stay pure request builders, and the offline / stub / capture
// hooks give tests a seam without a network.
package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rmloveland/synergy/internal/logger"
)

// Response is the result of one completed HTTP exchange.
type Response struct {
	Status int
	Body   []byte
}

// ExitError reports a curl process that failed outright (network down,
// killed mid-transfer, bad URL). It is always considered transient.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("transport exited with code %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}

// Options configures a Client.
type Options struct {
	Offline         bool
	OfflineResponse string
	StubPath        string
	CaptureDir      string
	MaxRetries      int           // additional attempts after the first; 0 disables retry
	Timeout         time.Duration // per-attempt connect-and-read deadline
	BaseDelay       time.Duration // first backoff step; doubles per attempt
}

// Client posts JSON bodies and applies the retry policy.
type Client struct {
	opts     Options
	sleep    func(time.Duration) // swapped out in tests
	doPost   func(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error)
	captureN int
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	c := &Client{opts: opts, sleep: time.Sleep}
	c.doPost = c.post
	return c
}

// Offline reports whether the client short-circuits with a canned reply.
func (c *Client) Offline() bool {
	return c.opts.Offline
}

// transient reports whether a status code is worth retrying. Everything else
// in 4xx is the caller's mistake and is returned immediately.
func transient(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// Post sends body to url with the given headers. It retries transient
// failures (curl exit, retryable status) with exponential backoff, then
// returns the final response. Non-2xx statuses are returned, not errors;
// classification belongs to the dispatcher.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	c.capture(url, headers, body)

	if c.opts.Offline {
		return &Response{Status: 200, Body: []byte(c.opts.OfflineResponse)}, nil
	}
	if c.opts.StubPath != "" {
		data, err := os.ReadFile(c.opts.StubPath)
		if err != nil {
			return nil, fmt.Errorf("reading stub response: %w", err)
		}
		return &Response{Status: 200, Body: data}, nil
	}

	attempts := c.opts.MaxRetries + 1
	delay := c.opts.BaseDelay

	var resp *Response
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err = c.doPost(ctx, url, headers, body)
		if err == nil && !transient(resp.Status) {
			return resp, nil
		}
		if attempt == attempts {
			break
		}
		if err != nil {
			logger.Warn("transport attempt failed", "attempt", attempt, "error", err)
		} else {
			logger.Warn("transient HTTP status", "attempt", attempt, "status", resp.Status)
		}
		c.sleep(delay)
		delay *= 2
	}
	return resp, err
}

// post performs a single curl invocation.
func (c *Client) post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	tmp, err := os.MkdirTemp("", "synergy_http_")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	bodyFile := filepath.Join(tmp, "request.json")
	outFile := filepath.Join(tmp, "response.body")
	errFile := filepath.Join(tmp, "curl.stderr")
	if err := os.WriteFile(bodyFile, body, 0600); err != nil {
		return nil, err
	}

	args := []string{
		"-s", "-X", "POST",
		"--max-time", strconv.Itoa(int(c.opts.Timeout.Seconds())),
		"--data-binary", "@" + bodyFile,
		"--output", outFile,
		"--stderr", errFile,
		"--write-out", "%{http_code}",
	}
	for k, v := range headers {
		args = append(args, "-H", k+": "+v)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, "curl", args...)
	stdout, err := cmd.Output()
	if err != nil {
		stderr, _ := os.ReadFile(errFile)
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return nil, &ExitError{Code: code, Stderr: string(stderr)}
	}

	// curl echoes the status code as the last thing on stdout.
	statusText := strings.TrimSpace(string(stdout))
	if i := strings.LastIndexByte(statusText, '\n'); i >= 0 {
		statusText = statusText[i+1:]
	}
	status, err := strconv.Atoi(statusText)
	if err != nil {
		return nil, &ExitError{Code: 0, Stderr: fmt.Sprintf("unparseable status %q", statusText)}
	}

	respBody, err := os.ReadFile(outFile)
	if err != nil {
		return nil, err
	}
	return &Response{Status: status, Body: respBody}, nil
}

// capture dumps the request to the capture directory when configured.
func (c *Client) capture(url string, headers map[string]string, body []byte) {
	dir := c.opts.CaptureDir
	if dir == "" {
		return
	}
	c.captureN++
	prefix := filepath.Join(dir, fmt.Sprintf("req-%d", c.captureN))

	var hdr strings.Builder
	for k, v := range headers {
		fmt.Fprintf(&hdr, "%s: %s\n", k, v)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn("capture dir", "error", err)
		return
	}
	_ = os.WriteFile(prefix+".url", []byte(url+"\n"), 0644)
	_ = os.WriteFile(prefix+".hdr", []byte(hdr.String()), 0644)
	_ = os.WriteFile(prefix+".body", body, 0644)
}
