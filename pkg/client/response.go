package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Response is a decoded JSON object returned by the service.
type Response struct {
	// URL is the request URL, without parameters.
	URL string

	// Body is the raw JSON object.
	Body json.RawMessage

	fields map[string]json.RawMessage
}

// NewResponse parses body as a JSON object.
func NewResponse(url string, body []byte) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}
	return &Response{
		URL:    url,
		Body:   json.RawMessage(body),
		fields: fields,
	}, nil
}

// Has reports whether the top-level key is present and not null.
func (r *Response) Has(key string) bool {
	raw, ok := r.fields[key]
	return ok && string(raw) != "null"
}

// Field decodes the top-level key into v. It returns false without error
// when the key is absent or null.
func (r *Response) Field(key string, v any) (bool, error) {
	if !r.Has(key) {
		return false, nil
	}
	if err := json.Unmarshal(r.fields[key], v); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Decode unmarshals the whole object into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// serviceError extracts an explicit error payload, if any. The message is
// kept even when code or details carry unexpected types.
func (r *Response) serviceError() *ServiceError {
	var payload map[string]json.RawMessage
	found, err := r.Field("error", &payload)
	if !found {
		return nil
	}
	if err != nil {
		return &ServiceError{URL: r.URL, Message: "malformed error payload"}
	}

	svcErr := &ServiceError{URL: r.URL}
	if raw, ok := payload["message"]; ok {
		if err := json.Unmarshal(raw, &svcErr.Message); err != nil {
			svcErr.Message = string(raw)
		}
	}
	svcErr.Code = errorCode(payload["code"])
	svcErr.Details = errorDetails(payload["details"])
	return svcErr
}

// errorCode accepts numeric and quoted codes; anything else yields 0.
func errorCode(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if code, err := n.Int64(); err == nil {
			return int(code)
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if code, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return code
		}
	}
	return 0
}

// errorDetails flattens details into strings. Non-string entries are kept
// as their compact JSON text.
func errorDetails(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	details := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			details = append(details, s)
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, item); err != nil {
			continue
		}
		details = append(details, buf.String())
	}
	return details
}
