// Package repo opens a .tig repository: its badger database, blob safe,
// refs, index file and configuration.
package repo

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"tigapply/internal/config"
	"tigapply/internal/errors"
	"tigapply/internal/logging"
	"tigapply/internal/refs"
	"tigapply/internal/safe"
	"tigapply/internal/target"
	"tigapply/internal/validation"
)

const (
	dbDir      = "db"
	contentDir = "content"
	indexFile  = "index"

	DefaultBranch = "refs/heads/main"
)

type Repo struct {
	Root string
	// Prefix is the working directory relative to Root, with a trailing
	// slash, or "" at the top.
	Prefix string

	DB     *badger.DB
	Blobs  *safe.Safe
	Refs   *refs.Store
	Codec  *safe.Codec
	Config *config.Config
	Logger *zap.Logger
}

// Initialize creates the repository layout under root and points HEAD at
// the default branch. It reports whether the repository is new.
func Initialize(root string, logger *zap.Logger) (bool, error) {
	tigDir := filepath.Join(root, validation.RepoDir)
	_, err := os.Stat(tigDir)
	created := os.IsNotExist(err)

	for _, dir := range []string{
		filepath.Join(tigDir, dbDir),
		filepath.Join(tigDir, contentDir),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	r, err := open(root, root, logger)
	if err != nil {
		return false, err
	}
	defer r.Close()

	if _, err := r.Refs.Read("HEAD"); stderrors.Is(err, refs.ErrNotFound) {
		if err := r.Refs.SetSymbolic("HEAD", DefaultBranch); err != nil {
			return false, fmt.Errorf("creating HEAD: %w", err)
		}
	} else if err != nil {
		return false, err
	}
	return created, nil
}

// FindRoot searches startDir and its parents for the directory holding
// .tig.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, validation.RepoDir)); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.NotFound("not a tig repository (or any of the parent directories): " + validation.RepoDir)
}

// Open finds the repository containing startDir and opens it.
func Open(startDir string, logger *zap.Logger) (*Repo, error) {
	root, err := FindRoot(startDir)
	if err != nil {
		return nil, err
	}
	return open(root, startDir, logger)
}

func open(root, startDir string, logger *zap.Logger) (*Repo, error) {
	logger = logging.OrNop(logger)

	prefix, err := prefixOf(root, startDir)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if path := config.Path(root); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	tigDir := filepath.Join(root, validation.RepoDir)
	opts := badger.DefaultOptions(filepath.Join(tigDir, dbDir))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	blobs, err := safe.New(db, safe.Options{
		Root:      filepath.Join(tigDir, contentDir),
		CacheSize: 1000,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing content safe: %w", err)
	}

	codec, err := safe.NewCodec(0)
	if err != nil {
		blobs.Close()
		db.Close()
		return nil, fmt.Errorf("initializing index codec: %w", err)
	}

	logger.Debug("repository opened", zap.String("root", root), zap.String("prefix", prefix))
	return &Repo{
		Root:   root,
		Prefix: prefix,
		DB:     db,
		Blobs:  blobs,
		Refs:   refs.NewStore(db, logger),
		Codec:  codec,
		Config: cfg,
		Logger: logger,
	}, nil
}

func prefixOf(root, dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("computing prefix: %w", err)
	}
	if rel == "." {
		return "", nil
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside repository at %s", dir, root)
	}
	return filepath.ToSlash(rel) + "/", nil
}

func (r *Repo) IndexPath() string {
	return filepath.Join(r.Root, validation.RepoDir, indexFile)
}

// Worktree is the working tree of the repository, without .tig.
func (r *Repo) Worktree() *target.Worktree {
	return target.OpenWorktree(r.Root, r.Logger)
}

func (r *Repo) Close() error {
	r.Codec.Close()
	r.Blobs.Close()
	if err := r.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
