// Package shard implements the HTTP shard-dispatch client the
// coordinator CRUD pipeline and follower replication hook use to talk
// to peer servers: HTTP verbs against the document API, option flags as
// query parameters, and an HTTP-status response mapped back to error
// kinds by the caller.
package shard

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Response is the decoded result of one shard RPC: status code, headers
// (used for e.g. ETag/_rev echoes), and the raw JSON body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client dispatches document CRUD requests to a named peer over HTTP.
type Client struct {
	http *http.Client
}

// NewClient returns a client bounding every request to timeout unless a
// shorter deadline is already set on the context passed to Dispatch.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Dispatch issues one document-CRUD RPC to peerBaseURL (e.g.
// "http://dbserver-3:8530"), building the path
// "/_db/<database>/_api/document/<collection>" with option flags
// appended as query parameters. noLockHeader, when non-empty, is sent
// as X-Arango-Nolock.
func (c *Client) Dispatch(ctx context.Context, peerBaseURL, method, database, collection string, body []byte, params url.Values, noLockHeader string) (*Response, error) {
	u := peerBaseURL + "/_db/" + url.PathEscape(database) + "/_api/document/" + url.PathEscape(collection)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("shard: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if noLockHeader != "" {
		req.Header.Set("X-Arango-Nolock", noLockHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shard: dispatch to %s failed: %w", peerBaseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("shard: reading response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
