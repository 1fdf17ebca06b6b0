package facade

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/kartikbazzad/docfacade/internal/shard"
)

func TestFollowerSetAddDemote(t *testing.T) {
	fs := NewFollowerSet("http://a", "http://b")
	if len(fs.Snapshot()) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(fs.Snapshot()))
	}
	fs.Demote("http://a")
	got := fs.Snapshot()
	if len(got) != 1 || got[0] != "http://b" {
		t.Fatalf("after Demote, got %v", got)
	}
	fs.Add("http://c")
	if len(fs.Snapshot()) != 2 {
		t.Fatalf("after Add, expected 2 peers, got %d", len(fs.Snapshot()))
	}
}

func TestReplicateWriteDemotesUnreachablePeer(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ok.Close()

	db := newTestDatabase(t)
	coll, err := db.CreateCollection("widgets")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	fs := NewFollowerSet(ok.URL, "http://127.0.0.1:0") // second peer is unreachable
	coll.SetFollowers(fs)
	db.SetShardClient(shard.NewClient(2*time.Second), &ShardClientOptions{ReplicationTimeout: 2 * time.Second})

	ReplicateWrite(context.Background(), db, coll, "POST", []byte(`{}`), url.Values{}, "")

	peers := fs.Snapshot()
	if len(peers) != 1 || peers[0] != ok.URL {
		t.Fatalf("expected only the healthy peer to survive, got %v", peers)
	}
}

func TestReplicateWriteNoFollowersIsNoop(t *testing.T) {
	db := newTestDatabase(t)
	coll, _ := db.CreateCollection("widgets")
	// No followers configured, no shard client: should not panic or block.
	ReplicateWrite(context.Background(), db, coll, "POST", []byte(`{}`), url.Values{}, "")
}
