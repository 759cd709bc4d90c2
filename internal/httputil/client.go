// Package httputil holds the JSON response helpers shared by the API and an
// injectable HTTP client for talking to the instrument.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPClient is the slice of *http.Client the instrument client needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultTimeout bounds request/response round trips. Streaming requests
// should use NewStreamingClient instead.
const DefaultTimeout = 10 * time.Second

// NewStandardClient returns an *http.Client with the given timeout, or
// DefaultTimeout when timeout is zero.
func NewStandardClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// NewStreamingClient returns a client without an overall timeout, for
// long-lived event streams that are bounded by their request context.
func NewStreamingClient() *http.Client {
	return &http.Client{}
}

// MockHTTPClient replays queued responses and records every request.
type MockHTTPClient struct {
	mu        sync.Mutex
	DoFunc    func(req *http.Request) (*http.Response, error)
	requests  []RecordedRequest
	responses []MockResponse
	next      int
}

// RecordedRequest is a request seen by MockHTTPClient with its body read.
type RecordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   string
}

// MockResponse is one canned reply. A non-nil Err is returned instead of a
// response.
type MockResponse struct {
	StatusCode int
	Body       string
	Header     http.Header
	Err        error
}

// NewMockHTTPClient creates an empty mock. With nothing queued it answers
// 200 with an empty body.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a plain response.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	return m.add(MockResponse{StatusCode: status, Body: body, Header: make(http.Header)})
}

// AddJSONResponse queues a response with an application/json content type.
func (m *MockHTTPClient) AddJSONResponse(status int, body string) *MockHTTPClient {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return m.add(MockResponse{StatusCode: status, Body: body, Header: h})
}

// AddError queues a transport error.
func (m *MockHTTPClient) AddError(err error) *MockHTTPClient {
	return m.add(MockResponse{Err: err})
}

func (m *MockHTTPClient) add(r MockResponse) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
	return m
}

// Do records req and returns the next queued response.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	rec := RecordedRequest{Method: req.Method, URL: req.URL.String(), Header: req.Header.Clone()}
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		rec.Body = string(b)
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	doFunc := m.DoFunc
	var canned *MockResponse
	if doFunc == nil && m.next < len(m.responses) {
		canned = &m.responses[m.next]
		m.next++
	}
	m.mu.Unlock()

	if doFunc != nil {
		return doFunc(req)
	}
	if canned == nil {
		canned = &MockResponse{StatusCode: http.StatusOK, Header: make(http.Header)}
	}
	if canned.Err != nil {
		return nil, canned.Err
	}
	header := canned.Header
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: canned.StatusCode,
		Status:     http.StatusText(canned.StatusCode),
		Body:       io.NopCloser(bytes.NewBufferString(canned.Body)),
		Header:     header,
		Request:    req,
	}, nil
}

// Requests returns a copy of the recorded requests in order.
func (m *MockHTTPClient) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// Request returns the nth recorded request, or false when out of range.
func (m *MockHTTPClient) Request(n int) (RecordedRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return RecordedRequest{}, false
	}
	return m.requests[n], true
}

// Reset drops recorded requests and queued responses.
func (m *MockHTTPClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responses = nil
	m.next = 0
	m.DoFunc = nil
}
