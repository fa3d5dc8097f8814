// Package testutil provides a mock feature service for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LayerPath is the path of the mock layer.
const LayerPath = "/arcgis/rest/services/Test/FeatureServer/0"

// TokenPath is the server token endpoint belonging to LayerPath.
const TokenPath = "/arcgis/tokens/generateToken"

// PortalTokenPath is the portal token endpoint.
const PortalTokenPath = "/portal/sharing/rest/generateToken"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Attachment is one attachment of a mock record.
type Attachment struct {
	ID         int64
	Name       string
	Body       string
	StatusCode int
}

// Layer describes the mock layer.
type Layer struct {
	// Type is "Feature Layer" or "Table"; empty omits the key
	Type string

	MaxRecordCount     int
	SupportsPagination bool

	// OmitCapabilities drops maxRecordCount and advancedQueryCapabilities
	OmitCapabilities bool

	// ChunkLimit is enforced on objectIds requests; 0 uses MaxRecordCount
	ChunkLimit int

	// HasAttachments nil omits the key
	HasAttachments *bool

	ObjectIDs   []int64
	Attachments map[int64][]Attachment

	// Username and Password accepted by the token endpoints
	Username string
	Password string

	// Token, when set, is required on every layer request
	Token string
}

// MockFeatureService is a configurable mock feature service for testing.
type MockFeatureService struct {
	server   *httptest.Server
	layer    Layer
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	requests []Request
}

// Request is one recorded request.
type Request struct {
	Method string
	Path   string
	Form   url.Values
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// SequentialIDs returns 1..n.
func SequentialIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

// NewMockFeatureService starts a plain HTTP mock.
func NewMockFeatureService(layer Layer) *MockFeatureService {
	m := newMock(layer)
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// NewTLSMockFeatureService starts an HTTPS mock. Use HTTPClient to trust it.
func NewTLSMockFeatureService(layer Layer) *MockFeatureService {
	m := newMock(layer)
	m.server = httptest.NewTLSServer(http.HandlerFunc(m.serve))
	return m
}

func newMock(layer Layer) *MockFeatureService {
	return &MockFeatureService{
		layer:    layer,
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}
}

// URL returns the mock server URL.
func (m *MockFeatureService) URL() string {
	return m.server.URL
}

// LayerURL returns the URL of the mock layer.
func (m *MockFeatureService) LayerURL() string {
	return m.server.URL + LayerPath
}

// HTTPClient returns a client trusting the server certificate.
func (m *MockFeatureService) HTTPClient() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockFeatureService) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockFeatureService) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockFeatureService) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// Requests returns the recorded requests.
func (m *MockFeatureService) Requests() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Request(nil), m.requests...)
}

// RequestCount returns the number of requests made to the server.
func (m *MockFeatureService) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// QueryRequests returns the forms of the /query requests matching pred.
func (m *MockFeatureService) QueryRequests(pred func(url.Values) bool) []url.Values {
	var out []url.Values
	for _, r := range m.Requests() {
		if r.Path == LayerPath+"/query" && (pred == nil || pred(r.Form)) {
			out = append(out, r.Form)
		}
	}
	return out
}

// IsChunkRequest matches batch fetch requests.
func IsChunkRequest(form url.Values) bool {
	return form.Get("objectIds") != ""
}

// IsPageRequest matches paged identifier requests.
func IsPageRequest(form url.Values) bool {
	return form.Get("returnIdsOnly") == "true" && form.Get("resultOffset") != ""
}

func (m *MockFeatureService) serve(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	m.mu.Lock()
	m.requests = append(m.requests, Request{Method: r.Method, Path: r.URL.Path, Form: r.Form})
	handler, exists := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if exists {
		handler(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch {
	case r.URL.Path == TokenPath || r.URL.Path == PortalTokenPath:
		m.serveToken(w, r)
		return
	case !strings.HasPrefix(r.URL.Path, LayerPath):
		http.NotFound(w, r)
		return
	}

	if m.layer.Token != "" && r.Form.Get("token") != m.layer.Token {
		writeJSON(w, ServiceError(499, "Token Required"))
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, LayerPath), "/")
	parts := strings.Split(rest, "/")
	switch {
	case rest == "":
		m.serveMetadata(w)
	case rest == "query":
		m.serveQuery(w, r.Form)
	case len(parts) == 2 && parts[1] == "attachments":
		m.serveAttachmentInfos(w, parts[0])
	case len(parts) == 3 && parts[1] == "attachments":
		m.serveAttachment(w, parts[0], parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (m *MockFeatureService) serveToken(w http.ResponseWriter, r *http.Request) {
	if r.Form.Get("client") != "requestip" || r.Form.Get("expiration") != "60" {
		writeJSON(w, ServiceError(400, "Unable to generate token."))
		return
	}
	if r.Form.Get("username") != m.layer.Username || r.Form.Get("password") != m.layer.Password {
		writeJSON(w, ServiceError(400, "Unable to generate token.", "Invalid username or password."))
		return
	}
	token := m.layer.Token
	if token == "" {
		token = "mock-token"
	}
	writeJSON(w, map[string]any{"token": token, "expires": time.Now().Add(time.Hour).UnixMilli()})
}

func (m *MockFeatureService) serveMetadata(w http.ResponseWriter) {
	meta := map[string]any{
		"id":             0,
		"name":           "Test",
		"maxRecordCount": m.layer.MaxRecordCount,
		"objectIdField":  "OBJECTID",
		"advancedQueryCapabilities": map[string]any{
			"supportsPagination": m.layer.SupportsPagination,
		},
	}
	if m.layer.Type != "" {
		meta["type"] = m.layer.Type
	}
	if m.layer.HasAttachments != nil {
		meta["hasAttachments"] = *m.layer.HasAttachments
	}
	writeJSON(w, meta)
}

func (m *MockFeatureService) serveQuery(w http.ResponseWriter, form url.Values) {
	ids := m.layer.ObjectIDs

	switch {
	case form.Get("returnCountOnly") == "true":
		writeJSON(w, map[string]any{"count": len(ids)})

	case form.Get("returnIdsOnly") == "true":
		if off := form.Get("resultOffset"); off != "" {
			if !m.layer.SupportsPagination {
				writeJSON(w, ServiceError(400, "Pagination is not supported."))
				return
			}
			offset, _ := strconv.Atoi(off)
			count, _ := strconv.Atoi(form.Get("resultRecordCount"))
			if offset > len(ids) {
				offset = len(ids)
			}
			end := offset + count
			if end > len(ids) {
				end = len(ids)
			}
			ids = ids[offset:end]
		}
		writeJSON(w, map[string]any{"objectIdFieldName": "OBJECTID", "objectIds": ids})

	case form.Get("objectIds") != "":
		requested := strings.Split(form.Get("objectIds"), ",")
		limit := m.layer.ChunkLimit
		if limit == 0 {
			limit = m.layer.MaxRecordCount
		}
		if limit > 0 && len(requested) > limit {
			writeJSON(w, ServiceError(400, "Unable to complete operation.",
				fmt.Sprintf("Requested %d records, maximum is %d.", len(requested), limit)))
			return
		}
		features := make([]map[string]any, 0, len(requested))
		for _, s := range requested {
			id, _ := strconv.ParseInt(s, 10, 64)
			f := map[string]any{"attributes": map[string]any{"OBJECTID": id, "NAME": fmt.Sprintf("record-%d", id)}}
			if form.Get("returnGeometry") == "true" {
				f["geometry"] = map[string]any{"x": float64(id), "y": float64(id) * 2}
			}
			features = append(features, f)
		}
		writeJSON(w, map[string]any{
			"objectIdFieldName": "OBJECTID",
			"geometryType":      "esriGeometryPoint",
			"features":          features,
		})

	default:
		writeJSON(w, ServiceError(400, "Invalid query parameters."))
	}
}

func (m *MockFeatureService) serveAttachmentInfos(w http.ResponseWriter, oid string) {
	id, _ := strconv.ParseInt(oid, 10, 64)
	infos := []map[string]any{}
	for _, a := range m.layer.Attachments[id] {
		infos = append(infos, map[string]any{"id": a.ID, "name": a.Name, "contentType": "application/octet-stream", "size": len(a.Body)})
	}
	writeJSON(w, map[string]any{"attachmentInfos": infos})
}

func (m *MockFeatureService) serveAttachment(w http.ResponseWriter, oid, attID string) {
	id, _ := strconv.ParseInt(oid, 10, 64)
	aid, _ := strconv.ParseInt(attID, 10, 64)
	for _, a := range m.layer.Attachments[id] {
		if a.ID != aid {
			continue
		}
		if a.StatusCode != 0 && a.StatusCode != http.StatusOK {
			w.WriteHeader(a.StatusCode)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte(a.Body))
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

// ServiceError builds an error payload.
func ServiceError(code int, message string, details ...string) map[string]any {
	if details == nil {
		details = []string{}
	}
	return map[string]any{"error": map[string]any{"code": code, "message": message, "details": details}}
}

// NewServiceErrorResponse creates a 200 response carrying an error payload.
func NewServiceErrorResponse(code int, message string) MockResponse {
	body, _ := json.Marshal(ServiceError(code, message))
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "Internal Server Error",
		Headers:    map[string]string{"Content-Type": "text/plain"},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	json.NewEncoder(w).Encode(v)
}
