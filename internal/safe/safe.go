// internal/safe/safe.go
package safe

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidOID   = errors.New("invalid object id")
	ErrAmbiguousOID = errors.New("ambiguous object id")
)

const (
	OIDLength    = 40
	minAbbrevLen = 4
	metaPrefix   = "blob:"
)

// BlobMeta stores metadata about a stored blob
type BlobMeta struct {
	OID        string    `json:"oid"`
	Size       int64     `json:"size"`
	RefCount   uint32    `json:"ref_count"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Safe is a deduplicated blob store. Blobs are named by the same object id
// a "diff --git" index line carries, so patches can refer to them.
type Safe struct {
	root        string
	db          *badger.DB
	cache       *lru.Cache[string, []byte]
	compression *compressionManager
	mu          sync.RWMutex
}

// Options configures Safe behavior
type Options struct {
	Root        string // Root directory for blob files
	CacheSize   int    // Number of blobs to cache
	Compression CompressionOptions
}

func New(db *badger.DB, opts Options) (*Safe, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	if opts.Compression.Level == 0 {
		opts.Compression = DefaultCompressionOptions()
	}
	cm, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compression manager: %w", err)
	}

	return &Safe{
		root:        opts.Root,
		db:          db,
		cache:       cache,
		compression: cm,
	}, nil
}

// HashBlob returns the object id of content.
func HashBlob(content []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// Store saves content and returns its object id. Storing existing content
// only bumps its reference count.
func (s *Safe) Store(content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}
	oid := HashBlob(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(oid)
	switch {
	case err == nil:
		meta.RefCount++
		if err := s.storeMeta(meta); err != nil {
			return "", fmt.Errorf("incrementing ref count: %w", err)
		}
		return oid, nil
	case !errors.Is(err, ErrBlobNotFound):
		return "", fmt.Errorf("checking existence: %w", err)
	}

	onDisk, compressed, err := s.compression.compress(content)
	if err != nil {
		return "", fmt.Errorf("compressing blob: %w", err)
	}

	blobPath := s.blobPath(oid)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0755); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}
	if err := os.WriteFile(blobPath, onDisk, 0644); err != nil {
		return "", fmt.Errorf("writing blob file: %w", err)
	}

	now := time.Now()
	meta = BlobMeta{
		OID:        oid,
		Size:       int64(len(content)),
		RefCount:   1,
		Compressed: compressed,
		CreatedAt:  now,
		AccessedAt: now,
	}
	if err := s.storeMeta(meta); err != nil {
		os.Remove(blobPath)
		return "", fmt.Errorf("storing metadata: %w", err)
	}

	s.cache.Add(oid, content)
	return oid, nil
}

// Get retrieves a blob by its full object id.
func (s *Safe) Get(oid string) ([]byte, error) {
	if !isValidOID(oid) {
		return nil, ErrInvalidOID
	}
	if content, ok := s.cache.Get(oid); ok {
		return content, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.getMeta(oid)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(s.blobPath(oid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	if meta.Compressed {
		if content, err = s.compression.decompress(content); err != nil {
			return nil, fmt.Errorf("decompressing blob: %w", err)
		}
	}
	if HashBlob(content) != oid {
		return nil, fmt.Errorf("blob %s: content hash mismatch", oid)
	}

	s.cache.Add(oid, content)
	return content, nil
}

// Resolve expands an abbreviated object id. It fails when no blob or more
// than one blob starts with abbrev.
func (s *Safe) Resolve(abbrev string) (string, error) {
	if len(abbrev) == OIDLength && isValidOID(abbrev) {
		if ok, err := s.Exists(abbrev); err != nil || !ok {
			if err == nil {
				err = ErrBlobNotFound
			}
			return "", err
		}
		return abbrev, nil
	}
	if len(abbrev) < minAbbrevLen || len(abbrev) > OIDLength {
		return "", ErrInvalidOID
	}
	if _, err := hex.DecodeString(abbrev + abbrev[:len(abbrev)%2]); err != nil {
		return "", ErrInvalidOID
	}

	var found []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(metaPrefix + abbrev)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(found) < 2; it.Next() {
			found = append(found, string(it.Item().Key()[len(metaPrefix):]))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	switch len(found) {
	case 0:
		return "", ErrBlobNotFound
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("%w: %s", ErrAmbiguousOID, abbrev)
}

// Delete drops one reference to a blob and removes it with the last one.
func (s *Safe) Delete(oid string) error {
	if !isValidOID(oid) {
		return ErrInvalidOID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(oid)
	if err != nil {
		return fmt.Errorf("getting metadata: %w", err)
	}

	meta.RefCount--
	if meta.RefCount > 0 {
		return s.storeMeta(meta)
	}
	if err := os.Remove(s.blobPath(oid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob file: %w", err)
	}
	if err := s.deleteMeta(oid); err != nil {
		return fmt.Errorf("deleting metadata: %w", err)
	}
	s.cache.Remove(oid)
	return nil
}

func (s *Safe) Exists(oid string) (bool, error) {
	if !isValidOID(oid) {
		return false, ErrInvalidOID
	}
	if s.cache.Contains(oid) {
		return true, nil
	}
	_, err := s.getMeta(oid)
	if errors.Is(err, ErrBlobNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Safe) Meta(oid string) (BlobMeta, error) {
	return s.getMeta(oid)
}

// Close releases the pooled encoders. The badger handle belongs to the
// caller.
func (s *Safe) Close() {
	s.compression.close()
}

func (s *Safe) blobPath(oid string) string {
	return filepath.Join(s.root, oid[:2], oid[2:])
}

func isValidOID(oid string) bool {
	if len(oid) != OIDLength {
		return false
	}
	_, err := hex.DecodeString(oid)
	return err == nil
}

func metaKey(oid string) []byte {
	return []byte(metaPrefix + oid)
}

func (s *Safe) storeMeta(meta BlobMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(meta.OID), data)
	})
}

func (s *Safe) getMeta(oid string) (BlobMeta, error) {
	var meta BlobMeta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(oid))
		if err == badger.ErrKeyNotFound {
			return ErrBlobNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	return meta, err
}

func (s *Safe) deleteMeta(oid string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(oid))
	})
}
