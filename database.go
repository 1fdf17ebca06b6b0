// Package facade implements the transaction and query-execution façade
// sitting in front of the storage engine.
//
// Architecture:
//  1. Database: the coordinating entry point for all subsystems.
//  2. Collection: documents plus their indexes.
//  3. Transaction (internal/transaction): ACID lifecycle and write sets.
//  4. MVCC: version chains and snapshot isolation for non-blocking reads.
//  5. WAL: durability via logging before apply.
//  6. Storage: disk I/O (Pager), page caching (BufferPool), B+Tree.
package facade

import (
	"fmt"
	"sync"

	"github.com/kartikbazzad/docfacade/internal/shard"
	"github.com/kartikbazzad/docfacade/internal/transaction"
	"github.com/kartikbazzad/docfacade/internal/wal"
	"github.com/kartikbazzad/docfacade/mvcc"
	"github.com/kartikbazzad/docfacade/rules"
	"github.com/kartikbazzad/docfacade/storage"
)

// Database is one façade instance: the central coordinator for storage,
// transactions, and the collection registry.
type Database struct {
	path        string
	name        string
	role        Role
	bufferPool  *storage.BufferPool
	pager       *storage.Pager
	walWriter   *wal.WAL
	versionMgr  *mvcc.VersionManager
	snapshotMgr *mvcc.SnapshotManager
	txnMgr      *transaction.TransactionManager
	metadataMgr *MetadataManager
	RulesEngine *rules.RulesEngine

	// shardClient and shardOpts back the coordinator CRUD pipeline
	// and the follower-replication hook. Nil on a plain
	// DBServer instance with no peers configured.
	shardClient *shard.Client
	shardOpts   *ShardClientOptions

	collections map[string]*Collection
	collByID    map[uint64]string
	mu          sync.RWMutex
	closed      bool
}

// SetShardClient wires the HTTP shard-dispatch client and its timeouts
// onto an already-open database, used by a coordinator instance or by a
// DBServer instance that replicates to followers.
func (db *Database) SetShardClient(client *shard.Client, opts *ShardClientOptions) {
	if opts == nil {
		opts = DefaultShardClientOptions()
	}
	db.shardClient = client
	db.shardOpts = opts
}

// Name returns the logical database name used in shard-dispatch URLs.
func (db *Database) Name() string { return db.name }

// Open opens a database at opts.Path, initializing the pager, buffer
// pool, WAL, metadata catalog, MVCC components, transaction manager, and
// rules engine, then restoring every collection and index recorded in
// the system catalog.
func Open(opts *DatabaseOptions) (*Database, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}

	pager, err := storage.NewPager(opts.Path + "/data.db")
	if err != nil {
		return nil, fmt.Errorf("failed to create pager: %w", err)
	}

	bufferPool := storage.NewBufferPool(opts.BufferPoolSize, pager)

	walWriter, err := wal.NewWAL(opts.WALPath)
	if err != nil {
		pager.Close()
		return nil, fmt.Errorf("failed to create WAL: %w", err)
	}

	// refuse to come up on a torn or reordered log
	if err := wal.NewRecovery(walWriter).VerifyIntegrity(); err != nil {
		pager.Close()
		walWriter.Close()
		return nil, fmt.Errorf("WAL integrity check failed: %w", err)
	}

	metaPath := opts.MetadataPath
	if metaPath == "" {
		metaPath = opts.Path + "/system_catalog.json"
	}
	metadataMgr, err := NewMetadataManager(metaPath)
	if err != nil {
		pager.Close()
		walWriter.Close()
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	versionMgr := mvcc.NewVersionManager()
	snapshotMgr := mvcc.NewSnapshotManager(versionMgr)
	txnMgr := transaction.NewTransactionManager(snapshotMgr, walWriter)

	re, err := rules.NewRulesEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rules engine: %w", err)
	}

	dbName := opts.Name
	if dbName == "" {
		dbName = "default"
	}

	db := &Database{
		path:        opts.Path,
		name:        dbName,
		role:        opts.Role,
		bufferPool:  bufferPool,
		pager:       pager,
		walWriter:   walWriter,
		versionMgr:  versionMgr,
		snapshotMgr: snapshotMgr,
		txnMgr:      txnMgr,
		metadataMgr: metadataMgr,
		RulesEngine: re,
		collections: make(map[string]*Collection),
		collByID:    make(map[uint64]string),
	}

	for _, name := range metadataMgr.ListCollections() {
		meta, _ := metadataMgr.GetCollection(name)
		coll := newCollection(db, name, meta.ID)

		for indexName, im := range meta.Indexes {
			tree, err := storage.LoadBPlusTree(bufferPool, storage.PageID(im.RootID))
			if err != nil {
				return nil, fmt.Errorf("failed to load index %s on collection %s: %w", indexName, name, err)
			}
			coll.attachIndex(indexName, im.Kind, im.Fields, im.Sparse, tree)
		}

		db.collections[name] = coll
		db.collByID[meta.ID] = name
	}

	return db, nil
}

// ResolveCollectionName implements identity.go's NameResolver, backing
// the custom-tagged `_id` blob decode path.
func (db *Database) ResolveCollectionName(id uint64) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	name, ok := db.collByID[id]
	if !ok {
		return "", wrapErr(ArangoCollectionNotFound, nil, "no collection with id %d", id)
	}
	return name, nil
}

// CreateCollection creates a new collection with a primary index.
func (db *Database) CreateCollection(name string) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if _, exists := db.collections[name]; exists {
		return nil, wrapErr(BadParameter, nil, "collection %s already exists", name)
	}

	id := db.metadataMgr.NextCollectionID()
	if err := db.metadataMgr.UpsertCollection(name, id); err != nil {
		return nil, fmt.Errorf("failed to persist collection metadata: %w", err)
	}

	coll := newCollection(db, name, id)

	tree, err := storage.NewBPlusTree(db.bufferPool)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary index: %w", err)
	}
	coll.attachIndex("_key", IndexPrimary, [][]string{{"_key"}}, false, tree)
	if err := coll.persistIndexes(); err != nil {
		return nil, err
	}

	db.collections[name] = coll
	db.collByID[id] = name

	return coll, nil
}

// GetCollection returns an existing collection.
func (db *Database) GetCollection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}
	coll, exists := db.collections[name]
	if !exists {
		return nil, wrapErr(ArangoCollectionNotFound, nil, "collection %s does not exist", name)
	}
	return coll, nil
}

// DropCollection removes a collection from the registry and catalog.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDatabaseClosed
	}
	coll, exists := db.collections[name]
	if !exists {
		return wrapErr(ArangoCollectionNotFound, nil, "collection %s does not exist", name)
	}

	delete(db.collections, name)
	delete(db.collByID, coll.id)
	return db.metadataMgr.DeleteCollection(name)
}

// ListCollections returns the names of all registered collections.
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	return names
}

// ListCollectionsWithPrefix filters ListCollections by name prefix.
func (db *Database) ListCollectionsWithPrefix(prefix string) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0)
	for name := range db.collections {
		if prefix == "" || (len(name) >= len(prefix) && name[:len(prefix)] == prefix) {
			names = append(names, name)
		}
	}
	return names
}

// BeginTransaction starts a new engine transaction at the given isolation
// level.
func (db *Database) BeginTransaction(level mvcc.IsolationLevel) (*transaction.Transaction, error) {
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	return db.txnMgr.Begin(level)
}

// CommitTransaction commits an engine transaction.
func (db *Database) CommitTransaction(txn *transaction.Transaction) error {
	if db.closed {
		return ErrDatabaseClosed
	}
	return db.txnMgr.Commit(txn)
}

// RollbackTransaction rolls back an engine transaction.
func (db *Database) RollbackTransaction(txn *transaction.Transaction) error {
	if db.closed {
		return ErrDatabaseClosed
	}
	return db.txnMgr.Rollback(txn)
}

// Close shuts every subsystem down in dependency order.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return fmt.Errorf("database already closed")
	}
	db.closed = true

	if err := db.txnMgr.Close(); err != nil {
		return fmt.Errorf("failed to close transaction manager: %w", err)
	}
	if err := db.bufferPool.FlushAllPages(); err != nil {
		return fmt.Errorf("failed to flush buffer pool: %w", err)
	}
	if err := db.walWriter.Close(); err != nil {
		return fmt.Errorf("failed to close WAL: %w", err)
	}
	if err := db.pager.Close(); err != nil {
		return fmt.Errorf("failed to close pager: %w", err)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (db *Database) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}
