package facade

import (
	"time"

	"github.com/kartikbazzad/docfacade/mvcc"
)

// QueryOptions represents query options like sort, limit, skip.
type QueryOptions struct {
	SortField string
	SortDesc  bool
	Limit     int
	Skip      int
}

// Role distinguishes the process-wide façade role that selects between
// the local CRUD pipeline and the coordinator/shard CRUD pipeline.
type Role int

const (
	// RoleDBServer runs the local CRUD pipeline directly against storage.
	RoleDBServer Role = iota
	// RoleCoordinator routes CRUD through the shard-dispatch client and
	// refuses direct index scans (ONLY_ON_DBSERVER).
	RoleCoordinator
)

// DatabaseOptions configures a database instance. Named distinctly from
// TransactionOptions and ShardClientOptions, which this package also
// exposes.
type DatabaseOptions struct {
	// Path to database directory.
	Path string

	// Name is the logical database name used in shard-dispatch URLs
	// (/_db/<name>/_api/document/<collection>). Defaults to "default".
	Name string

	// Role selects the local-CRUD or coordinator-CRUD pipeline.
	Role Role

	// BufferPoolSize in number of pages (default: 1000 = 8MB).
	BufferPoolSize int

	// WALPath for write-ahead log (default: Path/wal).
	WALPath string

	// MetadataPath for system catalog (default: Path/system_catalog.json).
	MetadataPath string
}

// DefaultDatabaseOptions returns default database options for a DBServer
// role instance rooted at path.
func DefaultDatabaseOptions(path string) *DatabaseOptions {
	return &DatabaseOptions{
		Path:           path,
		Name:           "default",
		Role:           RoleDBServer,
		BufferPoolSize: 1000,
		WALPath:        path + "/wal",
		MetadataPath:   path + "/system_catalog.json",
	}
}

// TransactionOptions configures a new Transaction: the isolation level,
// a wait-for-sync durability flag, whether unregistered collections may
// be used implicitly, and an overall timeout.
type TransactionOptions struct {
	IsolationLevel           mvcc.IsolationLevel
	WaitForSync              bool
	AllowImplicitCollections bool
	Timeout                  time.Duration
	// ExternalID is the caller-supplied transaction id; 0 means "generate
	// one".
	ExternalID uint64
}

// DefaultTransactionOptions returns the façade's default transaction
// configuration: read-committed, no forced sync, no implicit
// collections, no timeout.
func DefaultTransactionOptions() *TransactionOptions {
	return &TransactionOptions{
		IsolationLevel: mvcc.ReadCommitted,
	}
}

// ShardClientOptions configures the HTTP-based shard-dispatch client used
// by the coordinator CRUD pipeline and follower replication.
type ShardClientOptions struct {
	// RequestTimeout bounds a single shard RPC.
	RequestTimeout time.Duration

	// ReplicationTimeout bounds a single follower-replication RPC.
	ReplicationTimeout time.Duration
}

// DefaultShardClientOptions returns the package's default timeouts.
func DefaultShardClientOptions() *ShardClientOptions {
	return &ShardClientOptions{
		RequestTimeout:     30 * time.Second,
		ReplicationTimeout: 60 * time.Second,
	}
}
