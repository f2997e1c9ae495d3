package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPConfig configures http.request.
type HTTPConfig struct {
	MaxResponseBody int64         `yaml:"max_response_body" json:"max_response_body"`
	DefaultTimeout  time.Duration `yaml:"default_timeout" json:"default_timeout"`
	Client          *http.Client  `yaml:"-" json:"-"`
}

const httpRequestInputSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "GET"},
    "url": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "auth": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["bearer", "basic"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"}
      }
    },
    "timeout": {"type": "string"},
    "fail_on_error_status": {"type": "boolean", "default": true}
  },
  "required": ["url"]
}`

// HTTPRequestAction calls external services: LMS webhooks, grading
// backends, notification gateways.
type HTTPRequestAction struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPRequestAction creates the http.request action.
func NewHTTPRequestAction(cfg HTTPConfig) *HTTPRequestAction {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRequestAction{config: cfg, client: client}
}

func (a *HTTPRequestAction) Name() string { return "http.request" }

func (a *HTTPRequestAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Send an HTTP request; JSON responses are decoded into the step output.",
		InputSchema: json.RawMessage(httpRequestInputSchema),
	}
}

func (a *HTTPRequestAction) Validate(params map[string]any) error {
	raw := stringParam(params, "url", "")
	if raw == "" {
		return schema.NewError(schema.ErrCodeValidation, "http.request: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "http.request: invalid url %q", raw)
	}
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if _, err := time.ParseDuration(ts); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "http.request: invalid timeout %q", ts)
		}
	}
	return nil
}

func (a *HTTPRequestAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	params := input.Params
	if err := a.Validate(params); err != nil {
		return nil, err
	}

	timeout := a.config.DefaultTimeout
	if d, err := time.ParseDuration(stringParam(params, "timeout", "")); err == nil {
		timeout = d
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := a.newRequest(reqCtx, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: %s %s failed: %v", req.Method, req.URL, err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http.request: read response body").WithCause(err)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
		"body":        decodeBody(resp.Header.Get("Content-Type"), raw),
		"duration_ms": time.Since(start).Milliseconds(),
	}

	if resp.StatusCode >= 400 && boolParam(params, "fail_on_error_status", true) {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "http.request: server returned %d", resp.StatusCode).
			WithDetails(result)
	}
	return jsonOutput(a.Name(), result)
}

func (a *HTTPRequestAction) newRequest(ctx context.Context, params map[string]any) (*http.Request, error) {
	method := strings.ToUpper(stringParam(params, "method", http.MethodGet))

	var body io.Reader
	if v, ok := params["body"]; ok && v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "http.request: body is not JSON-encodable").WithCause(err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, stringParam(params, "url", ""), body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "http.request: build request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range mapParam(params, "headers") {
		req.Header.Set(k, fmt.Sprint(v))
	}

	auth := mapParam(params, "auth")
	switch stringParam(auth, "type", "") {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case "basic":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	}
	return req, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// decodeBody returns parsed JSON for JSON responses and text otherwise.
func decodeBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}
