// Package hardware talks to the incubator's REST interface: per-shelf status
// for the recorder, stored event history and the push event stream.
package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/incubator.report/internal/events"
	"github.com/banshee-data/incubator.report/internal/httputil"
	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/telemetry"
)

// ErrUnexpectedStatus is wrapped by every error caused by a non-2xx reply.
var ErrUnexpectedStatus = errors.New("unexpected status from instrument")

const (
	statusPath = "/api/status"
	eventsPath = "/api/events"
	streamPath = "/api/events/stream"

	// maxBody caps how much of a status or history reply is decoded.
	maxBody = 8 << 20
)

// Client is a REST client for one instrument.
type Client struct {
	base   *url.URL
	http   httputil.HTTPClient
	stream httputil.HTTPClient
}

// NewClient returns a client for the instrument at baseURL. c is used for
// request/response calls; stream, when non-nil, is used for the long-lived
// event stream (it should have no overall timeout).
func NewClient(baseURL string, c, stream httputil.HTTPClient) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid hardware url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid hardware url %q: scheme must be http or https", baseURL)
	}
	if c == nil {
		c = httputil.NewStandardClient(0)
	}
	if stream == nil {
		stream = c
	}
	return &Client{base: u, http: c, stream: stream}, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) get(ctx context.Context, client httputil.HTTPClient, target, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %w: %d %s", target, ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, target string) (any, error) {
	resp, err := c.get(ctx, c.http, target, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBody))
	var body any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", target, err)
	}
	return body, nil
}

// Status reads the current state of every shelf. Shelves the instrument
// reports without a usable channel number are dropped; a shelf reported
// without a timestamp gets a zero one, which the recorder fills in.
func (c *Client) Status(ctx context.Context) ([]telemetry.Sample, error) {
	body, err := c.getJSON(ctx, c.endpoint(statusPath, nil))
	if err != nil {
		return nil, err
	}
	return decodeStatus(body)
}

// FetchEvents reads stored events in [start, end), optionally limited to
// one shelf. Zero bounds are omitted from the query. Events that cannot be
// normalised are skipped.
func (c *Client) FetchEvents(ctx context.Context, start, end time.Time, channel *int) ([]events.Event, error) {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		q.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	}
	if channel != nil {
		q.Set("channel", strconv.Itoa(*channel))
	}
	body, err := c.getJSON(ctx, c.endpoint(eventsPath, q))
	if err != nil {
		return nil, err
	}

	items, ok := unwrapList(body, "events", "items", "data")
	if !ok {
		return nil, fmt.Errorf("unexpected event history shape %T", body)
	}
	out := make([]events.Event, 0, len(items))
	for _, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		e, err := events.Normalize(raw)
		if err != nil {
			monitoring.Logf("hardware: skipping event: %v", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// OpenEventStream opens the instrument's push event stream. The caller must
// close the returned body; cancelling ctx ends the stream.
func (c *Client) OpenEventStream(ctx context.Context) (io.ReadCloser, error) {
	resp, err := c.get(ctx, c.stream, c.endpoint(streamPath, nil), "text/event-stream, application/x-ndjson")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// unwrapList accepts either a bare JSON array or an object holding the array
// under one of keys.
func unwrapList(body any, keys ...string) ([]any, bool) {
	switch v := body.(type) {
	case []any:
		return v, true
	case map[string]any:
		for _, k := range keys {
			if list, ok := v[k].([]any); ok {
				return list, true
			}
		}
	}
	return nil, false
}
