// Package semqueryctl implements the operator CLI. It is a thin HTTP client
// over the API service so that every action it performs is also available to
// any other client.
package semqueryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("semqueryctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "semquery API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	sessionID := fs.String("session", defaults.SessionID, "conversation session ID for ask and reset")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	var (
		method      = http.MethodGet
		path        string
		body        io.Reader
		contentType string
	)
	switch command {
	case "health":
		path = "/v1/health"
	case "ready":
		path = "/v1/ready"
	case "model":
		path = "/v1/model"
	case "versions":
		path = "/v1/model/versions"
		if fs.NArg() > 1 {
			path += "?model=" + fs.Arg(1)
		}
	case "ask":
		question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		payload, err := json.Marshal(map[string]string{
			"session_id": *sessionID,
			"question":   question,
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
			return 1
		}
		method, path = http.MethodPost, "/v1/ask"
		body, contentType = bytes.NewReader(payload), "application/json"
	case "reset":
		if strings.TrimSpace(*sessionID) == "" {
			_, _ = fmt.Fprintln(stderr, "reset requires -session")
			return 2
		}
		payload, err := json.Marshal(map[string]string{"session_id": *sessionID})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
			return 1
		}
		method, path = http.MethodPost, "/v1/sessions/reset"
		body, contentType = bytes.NewReader(payload), "application/json"
	case "publish":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "publish requires a model artifact file")
			return 2
		}
		raw, err := os.ReadFile(fs.Arg(1))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "read artifact: %v\n", err)
			return 1
		}
		method, path = http.MethodPost, "/v1/model/publish"
		body, contentType = bytes.NewReader(raw), "application/yaml"
	case "verify":
		method, path = http.MethodPost, "/v1/model/verify"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, contentType, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: semqueryctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health               GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  ask <question>       POST /v1/ask (use -session to continue a conversation)")
	_, _ = fmt.Fprintln(w, "  reset                POST /v1/sessions/reset (requires -session)")
	_, _ = fmt.Fprintln(w, "  model                GET /v1/model")
	_, _ = fmt.Fprintln(w, "  versions [model]     GET /v1/model/versions")
	_, _ = fmt.Fprintln(w, "  publish <file.yaml>  POST /v1/model/publish")
	_, _ = fmt.Fprintln(w, "  verify               POST /v1/model/verify (replay verified queries)")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
