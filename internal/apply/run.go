package apply

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tigapply/internal/errors"
	"tigapply/internal/index"
	"tigapply/internal/logging"
	"tigapply/internal/safe"
	"tigapply/internal/target"
)

// Env is what a run can touch. IndexPath and Blobs are only needed when
// the options involve the index.
type Env struct {
	Worktree    *target.Worktree
	IndexPath   string
	Blobs       *safe.Safe
	Codec       *safe.Codec
	LockTimeout time.Duration
}

// Run applies the patches in input to the target selected by opts. When
// the index is involved it is locked for the whole run and written back
// only if at least one file was committed.
func Run(ctx context.Context, env Env, opts Options, input []byte) (*Report, error) {
	logger := logging.OrNop(opts.Logger)
	if opts.ThreeWay {
		opts.Index = true
	}

	if !opts.usesIndex() {
		if env.Worktree == nil {
			return nil, errors.ValidationError("no working tree to apply to", nil)
		}
		return NewSession(env.Worktree, opts).Apply(ctx, input)
	}
	if env.IndexPath == "" || env.Blobs == nil {
		return nil, errors.ValidationError("applying to the index requires a repository", nil)
	}

	var ix *index.Index
	var file *index.File
	if opts.Check {
		var err error
		if ix, err = index.Read(env.IndexPath, env.Codec); err != nil {
			return nil, err
		}
	} else {
		var err error
		file, err = index.Lock(ctx, env.IndexPath, env.LockTimeout, env.Codec, logger)
		if err != nil {
			return nil, err
		}
		defer file.Rollback()
		ix = file.Index
	}

	it := target.NewIndex(ix, env.Blobs)
	var t target.Target = it
	if !opts.Cached {
		if env.Worktree == nil {
			return nil, errors.ValidationError("no working tree to apply to", nil)
		}
		t = target.NewCombined(it, env.Worktree)
	}

	report, err := NewSession(t, opts).Apply(ctx, input)
	if file == nil || report == nil || report.Count(Clean)+report.Count(Conflicted) == 0 {
		return report, err
	}
	if cerr := file.Commit(); cerr != nil {
		return report, cerr
	}
	logger.Debug("index updated", zap.String("index", env.IndexPath), zap.Int("entries", ix.Len()))
	return report, err
}
