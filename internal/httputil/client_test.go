package httputil

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStandardClient(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewStandardClient(0).Timeout)
	assert.Equal(t, 3*time.Second, NewStandardClient(3*time.Second).Timeout)
	assert.Zero(t, NewStreamingClient().Timeout)
}

func get(t *testing.T, c HTTPClient, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	return resp
}

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddJSONResponse(http.StatusOK, `{"ok":true}`).AddResponse(http.StatusNotFound, "missing")

	first := get(t, mock, "http://incubator.local/api/status")
	body, _ := io.ReadAll(first.Body)
	first.Body.Close()
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, "application/json", first.Header.Get("Content-Type"))

	second := get(t, mock, "http://incubator.local/api/events")
	second.Body.Close()
	assert.Equal(t, http.StatusNotFound, second.StatusCode)

	// Nothing left queued: empty 200.
	third := get(t, mock, "http://incubator.local/api/status")
	third.Body.Close()
	assert.Equal(t, http.StatusOK, third.StatusCode)

	reqs := mock.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "http://incubator.local/api/events", reqs[1].URL)
}

func TestMockHTTPClient_RecordsBody(t *testing.T) {
	mock := NewMockHTTPClient()
	req, err := http.NewRequest(http.MethodPost, "http://incubator.local/api/x", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := mock.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	rec, ok := mock.Request(0)
	require.True(t, ok)
	assert.Equal(t, http.MethodPost, rec.Method)
	assert.Equal(t, `{"a":1}`, rec.Body)
	assert.Equal(t, "application/json", rec.Header.Get("Content-Type"))

	_, ok = mock.Request(1)
	assert.False(t, ok)
	_, ok = mock.Request(-1)
	assert.False(t, ok)
}

func TestMockHTTPClient_Error(t *testing.T) {
	mock := NewMockHTTPClient()
	refused := errors.New("connection refused")
	mock.AddError(refused)

	req, _ := http.NewRequest(http.MethodGet, "http://incubator.local/", nil)
	_, err := mock.Do(req)
	assert.ErrorIs(t, err, refused)
}

func TestMockHTTPClient_DoFuncAndReset(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTeapot, Body: io.NopCloser(strings.NewReader("")), Request: req}, nil
	}
	resp := get(t, mock, "http://incubator.local/")
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	mock.Reset()
	assert.Empty(t, mock.Requests())
	resp = get(t, mock, "http://incubator.local/")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
