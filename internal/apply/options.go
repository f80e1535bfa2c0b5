// Package apply runs a batch of patches against a target: every file is
// parsed, validated, matched, whitespace-checked and symlink-checked before
// anything is written.
package apply

import (
	"go.uber.org/zap"

	"tigapply/internal/filter"
	"tigapply/internal/image"
	"tigapply/internal/merge"
	"tigapply/internal/patch"
	"tigapply/internal/trace"
	"tigapply/internal/whitespace"
)

type Options struct {
	Parse patch.Options

	// Check only reports whether the patches apply.
	Check bool
	// Cached applies to the index only, Index to the index and the working
	// tree. Neither means the working tree only.
	Cached bool
	Index  bool
	// ThreeWay falls back to a merge against the blob the patch was made
	// from when fragments do not apply. It implies Index.
	ThreeWay bool
	// BestEffort commits the files that apply and reports the rest, instead
	// of refusing the whole batch.
	BestEffort bool
	// UnsafePaths skips path verification.
	UnsafePaths bool
	// AllowEmpty accepts input without any patch.
	AllowEmpty bool

	Fuzz             int
	MinContext       int
	UnidiffZero      bool
	IgnoreWhitespace bool

	Whitespace      whitespace.Action
	WhitespaceRules *whitespace.Rules
	// Squelch limits how many whitespace errors are shown one by one.
	Squelch int
	// InputName labels whitespace warnings, as "<input>:<line>".
	InputName string

	Filter *filter.Filter
	Labels merge.Labels

	Logger *zap.Logger
	Trace  *trace.Key
	Perf   *trace.Key
}

func DefaultOptions() Options {
	return Options{
		Parse:      patch.DefaultOptions(),
		Fuzz:       -1,
		MinContext: -1,
		Squelch:    5,
		InputName:  "<stdin>",
		Labels:     merge.DefaultLabels(),
	}
}

func (o Options) usesIndex() bool {
	return o.Cached || o.Index || o.ThreeWay
}

func (o Options) imageOptions(logger *zap.Logger) image.Options {
	return image.Options{
		Fuzz:             o.Fuzz,
		MinContext:       o.MinContext,
		UnidiffZero:      o.UnidiffZero,
		IgnoreWhitespace: o.IgnoreWhitespace,
		Action:           o.Whitespace,
		Logger:           logger,
	}
}
