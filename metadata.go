package facade

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/kartikbazzad/docfacade/storage"
)

// SystemMetadata holds the persistent catalog of the database:
// collections and their index definitions. Document schemas are not
// recorded here; the façade treats documents as opaque.
type SystemMetadata struct {
	Collections map[string]CollectionMeta `json:"collections"`
}

// IndexMeta describes one persisted index: its kind, field list, sparsity,
// and B+Tree root page.
type IndexMeta struct {
	Kind   IndexKind  `json:"kind"`
	Fields [][]string `json:"fields"`
	Sparse bool       `json:"sparse"`
	RootID uint64     `json:"root_id"`
}

// CollectionMeta holds metadata for a single collection.
type CollectionMeta struct {
	Name    string               `json:"name"`
	ID      uint64               `json:"id"`
	Indexes map[string]IndexMeta `json:"indexes"`         // index name -> definition
	Rules   map[string]string    `json:"rules,omitempty"` // operation -> CEL expression
}

// MetadataManager persists the system catalog (collection/index
// definitions) so B+Tree roots survive a restart.
type MetadataManager struct {
	path     string
	metadata SystemMetadata
	nextID   uint64
	mu       sync.RWMutex
}

// NewMetadataManager creates a new metadata manager backed by path.
func NewMetadataManager(path string) (*MetadataManager, error) {
	mm := &MetadataManager{
		path: path,
		metadata: SystemMetadata{
			Collections: make(map[string]CollectionMeta),
		},
	}

	if err := mm.load(); err != nil {
		if os.IsNotExist(err) {
			return mm, nil
		}
		return nil, err
	}

	if mm.metadata.Collections == nil {
		mm.metadata.Collections = make(map[string]CollectionMeta)
	}
	for _, meta := range mm.metadata.Collections {
		if meta.ID > mm.nextID {
			mm.nextID = meta.ID
		}
	}

	return mm, nil
}

func (mm *MetadataManager) load() error {
	data, err := os.ReadFile(mm.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &mm.metadata)
}

// Save writes metadata to disk.
func (mm *MetadataManager) Save() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.saveLocked()
}

func (mm *MetadataManager) saveLocked() error {
	data, err := json.MarshalIndent(mm.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(mm.path, data, 0644)
}

// NextCollectionID allocates the next numeric collection id, used for the
// custom-tagged `_id` blob encoding (identity.go).
func (mm *MetadataManager) NextCollectionID() uint64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.nextID++
	return mm.nextID
}

// UpsertCollection creates or overwrites a collection's catalog entry.
func (mm *MetadataManager) UpsertCollection(name string, id uint64) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	meta, exists := mm.metadata.Collections[name]
	if !exists {
		meta = CollectionMeta{Name: name, ID: id, Indexes: make(map[string]IndexMeta)}
	}
	mm.metadata.Collections[name] = meta
	return mm.saveLocked()
}

// UpdateIndexes replaces the full index map for a collection.
func (mm *MetadataManager) UpdateIndexes(name string, indexes map[string]IndexMeta) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	meta, exists := mm.metadata.Collections[name]
	if !exists {
		return fmt.Errorf("collection %s does not exist", name)
	}
	meta.Indexes = indexes
	mm.metadata.Collections[name] = meta
	return mm.saveLocked()
}

// UpdateIndexRoot rewrites a single index's root page, used as the
// persistence listener fired on B+Tree split/merge.
func (mm *MetadataManager) UpdateIndexRoot(collName, indexName string, rootID storage.PageID) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	meta, exists := mm.metadata.Collections[collName]
	if !exists {
		return fmt.Errorf("collection %s does not exist", collName)
	}
	if meta.Indexes == nil {
		meta.Indexes = make(map[string]IndexMeta)
	}
	im := meta.Indexes[indexName]
	im.RootID = uint64(rootID)
	meta.Indexes[indexName] = im
	mm.metadata.Collections[collName] = meta
	return mm.saveLocked()
}

// GetCollection returns metadata for a collection.
func (mm *MetadataManager) GetCollection(name string) (CollectionMeta, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	meta, ok := mm.metadata.Collections[name]
	return meta, ok
}

// DeleteCollection removes a collection from the catalog.
func (mm *MetadataManager) DeleteCollection(name string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	delete(mm.metadata.Collections, name)
	return mm.saveLocked()
}

// ListCollections returns all collection names.
func (mm *MetadataManager) ListCollections() []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	names := make([]string, 0, len(mm.metadata.Collections))
	for name := range mm.metadata.Collections {
		names = append(names, name)
	}
	return names
}

// ListCollectionsWithPrefix returns collection names matching the prefix.
func (mm *MetadataManager) ListCollectionsWithPrefix(prefix string) []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	names := make([]string, 0)
	for name := range mm.metadata.Collections {
		if prefix == "" {
			names = append(names, name)
			continue
		}
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			names = append(names, name)
		}
	}
	return names
}

// UpdateCollectionRules updates the CEL rules for a collection.
func (mm *MetadataManager) UpdateCollectionRules(name string, rules map[string]string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	meta, ok := mm.metadata.Collections[name]
	if !ok {
		return fmt.Errorf("collection not found: %s", name)
	}
	meta.Rules = rules
	mm.metadata.Collections[name] = meta
	return mm.saveLocked()
}
