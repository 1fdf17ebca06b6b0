package shard

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestDispatchBuildsPathAndForwardsBody(t *testing.T) {
	var gotPath, gotMethod, gotNolock string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotMethod = r.Method
		gotNolock = r.Header.Get("X-Arango-Nolock")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"_key":"abc"}`))
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	params := url.Values{"waitForSync": {"true"}}
	resp, err := c.Dispatch(context.Background(), srv.URL, http.MethodPost, "mydb", "widgets", []byte(`{"name":"x"}`), params, "txn-7")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	wantPath := "/_db/mydb/_api/document/widgets?waitForSync=true"
	if gotPath != wantPath {
		t.Errorf("path = %s, want %s", gotPath, wantPath)
	}
	if gotNolock != "txn-7" {
		t.Errorf("X-Arango-Nolock = %q, want txn-7", gotNolock)
	}
	if string(gotBody) != `{"name":"x"}` {
		t.Errorf("body = %s", gotBody)
	}
	if string(resp.Body) != `{"_key":"abc"}` {
		t.Errorf("response body = %s", resp.Body)
	}
}

func TestDispatchUnreachablePeerErrors(t *testing.T) {
	c := NewClient(200 * time.Millisecond)
	_, err := c.Dispatch(context.Background(), "http://127.0.0.1:1", http.MethodGet, "mydb", "widgets", nil, nil, "")
	if err == nil {
		t.Fatal("expected an error dispatching to an unreachable peer")
	}
}
