package facade

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// FollowerSet is the current replica set of a shard leader's collection:
// a plain set of peer base URLs, mutated only by Demote once a follower
// disagrees with the leader.
type FollowerSet struct {
	mu    sync.Mutex
	peers map[string]struct{}
}

// NewFollowerSet returns a set seeded with the given peer base URLs.
func NewFollowerSet(peers ...string) *FollowerSet {
	fs := &FollowerSet{peers: make(map[string]struct{}, len(peers))}
	for _, p := range peers {
		fs.peers[p] = struct{}{}
	}
	return fs
}

// Snapshot returns the current follower peers. Safe to call concurrently
// with Demote/Add; the result reflects a point-in-time copy.
func (fs *FollowerSet) Snapshot() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]string, 0, len(fs.peers))
	for p := range fs.peers {
		out = append(out, p)
	}
	return out
}

// Add registers a new follower (e.g. after it catches up and rejoins).
func (fs *FollowerSet) Add(peer string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.peers[peer] = struct{}{}
}

// Demote removes peer from the follower set.
func (fs *FollowerSet) Demote(peer string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.peers, peer)
}

// ReplicateWrite fans the same write out to every current follower of
// coll, demoting (removing from the follower set) any peer that does not
// answer 201/202 within the replication timeout. Replication is unordered
// across followers and never surfaces an error to the caller: a failing
// follower is logged and demoted, but the primary write it rode in on has
// already succeeded. One goroutine per peer demotes its own peer through
// the follower set's mutex and returns nil; golang.org/x/sync/errgroup
// supplies the shared deadline context and waits for all of them.
func ReplicateWrite(ctx context.Context, db *Database, coll *Collection, method string, body []byte, params url.Values, noLockHeader string) {
	fs := coll.Followers()
	if fs == nil || db.shardClient == nil {
		return
	}
	peers := fs.Snapshot()
	if len(peers) == 0 {
		return
	}

	timeout := 60 * time.Second
	if db.shardOpts != nil && db.shardOpts.ReplicationTimeout > 0 {
		timeout = db.shardOpts.ReplicationTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(rctx)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			resp, err := db.shardClient.Dispatch(gctx, peer, method, db.Name(), coll.Name(), body, params, noLockHeader)
			if err != nil {
				fmt.Printf("[WARN] follower %s unreachable replicating %s %s: %v; demoting\n", peer, method, coll.Name(), err)
				fs.Demote(peer)
				return nil
			}
			if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
				fmt.Printf("[WARN] follower %s rejected replicated %s %s with status %d; demoting\n", peer, method, coll.Name(), resp.StatusCode)
				fs.Demote(peer)
			}
			return nil
		})
	}
	_ = g.Wait()
}
