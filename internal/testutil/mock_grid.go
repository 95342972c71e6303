// Package testutil provides testing utilities for the GRID fetcher.
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Operation names of the GraphQL documents sent by the client.
const (
	OpVersion = "VersionCheck"
	OpSeries  = "SeriesState"
)

// MockResponse defines the behavior for one mock GraphQL response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockGRID is a configurable mock of the GRID series-state endpoint.
// Responses are scripted per series and operation; the last scripted
// response of a queue repeats.
type MockGRID struct {
	server *httptest.Server
	mu     sync.Mutex
	script map[string][]MockResponse

	// DefaultVersion is reported by unscripted version checks.
	DefaultVersion string

	requests   map[string]int
	total      int
	lastAPIKey string
	lastQuery  string
}

type graphQLRequest struct {
	Query         string            `json:"query"`
	OperationName string            `json:"operationName"`
	Variables     map[string]string `json:"variables"`
}

// NewMockGRID creates a new mock GRID server.
func NewMockGRID() *MockGRID {
	mock := &MockGRID{
		script:         make(map[string][]MockResponse),
		requests:       make(map[string]int),
		DefaultVersion: "3.43",
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockGRID) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGRID) Close() {
	m.server.Close()
}

// Reset clears all tracking counters. Scripts are kept.
func (m *MockGRID) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.total = 0
}

// Script queues responses for one series and operation (OpVersion or OpSeries).
func (m *MockGRID) Script(seriesID, operation string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scriptKey(seriesID, operation)
	m.script[key] = append(m.script[key], responses...)
}

// RequestCount returns the total number of requests served.
func (m *MockGRID) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// RequestsFor returns the number of requests for one series and operation.
func (m *MockGRID) RequestsFor(seriesID, operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[scriptKey(seriesID, operation)]
}

// LastAPIKey returns the x-api-key header of the most recent request.
func (m *MockGRID) LastAPIKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAPIKey
}

// LastQuery returns the query document of the most recent request.
func (m *MockGRID) LastQuery() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery
}

func (m *MockGRID) handle(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var req graphQLRequest
	if err := sonic.Unmarshal(data, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	seriesID := req.Variables["seriesId"]
	op := req.OperationName
	if op == "" {
		op = OpSeries
		if strings.Contains(req.Query, OpVersion) {
			op = OpVersion
		}
	}

	m.mu.Lock()
	m.total++
	key := scriptKey(seriesID, op)
	m.requests[key]++
	m.lastAPIKey = r.Header.Get("x-api-key")
	m.lastQuery = req.Query
	resp, scripted := m.next(key)
	version := m.DefaultVersion
	m.mu.Unlock()

	if !scripted {
		if op == OpVersion {
			resp = NewVersionResponse(seriesID, version)
		} else {
			resp = NewSeriesResponse(MinimalSeries(seriesID, version))
		}
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// next pops the next scripted response; the caller holds m.mu.
func (m *MockGRID) next(key string) (MockResponse, bool) {
	queue := m.script[key]
	if len(queue) == 0 {
		return MockResponse{}, false
	}
	resp := queue[0]
	if len(queue) > 1 {
		m.script[key] = queue[1:]
	}
	return resp, true
}

func scriptKey(seriesID, operation string) string {
	return seriesID + "|" + operation
}

// NewVersionResponse creates a 200 version-check response.
func NewVersionResponse(seriesID, version string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"data":{"seriesState":{"id":%q,"version":%q}}}`, seriesID, version),
	}
}

// NewSeriesResponse wraps a seriesState JSON object in a 200 response.
func NewSeriesResponse(seriesState string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data":{"seriesState":` + seriesState + `}}`,
	}
}

// NewStatusResponse creates a bare error response with the given status.
func NewStatusResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"error":%q}`, http.StatusText(status)),
	}
}

// NewGraphQLErrorResponse creates a 200 response carrying a GraphQL error.
func NewGraphQLErrorResponse(message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"data":{"seriesState":null},"errors":[{"message":%q}]}`, message),
	}
}

// NewNullSeriesResponse creates a 200 response whose seriesState is null.
func NewNullSeriesResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: `{"data":{"seriesState":null}}`}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":"Rate limit exceeded"}`,
		Headers:    map[string]string{"Retry-After": fmt.Sprintf("%d", retryAfterSeconds)},
	}
}

// MinimalSeries returns a seriesState object with two teams and no games.
func MinimalSeries(seriesID, version string) string {
	return fmt.Sprintf(`{"id":%q,"version":%q,"format":"best-of-3","started":true,"finished":true,`+
		`"startedAt":"2024-06-01T12:00:00Z","teams":[{"id":"t1","name":"Blue Side","won":true,"score":2},`+
		`{"id":"t2","name":"Red Side","won":false,"score":1}],"games":[]}`, seriesID, version)
}
