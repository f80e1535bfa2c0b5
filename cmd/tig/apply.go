package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tigapply/internal/apply"
	"tigapply/internal/config"
	"tigapply/internal/errors"
	"tigapply/internal/filter"
	"tigapply/internal/repo"
	"tigapply/internal/target"
	"tigapply/internal/whitespace"
)

type applyFlags struct {
	check       bool
	index       bool
	cached      bool
	threeWay    bool
	reject      bool
	unidiffZero bool
	ignoreWS    bool
	unsafePaths bool
	reverse     bool
	recount     bool
	allowEmpty  bool
	stat        bool
	numstat     bool
	summary     bool

	strip      int
	minContext int
	fuzz       int
	whitespace string
	directory  string
}

func newApplyCmd() *cobra.Command {
	var f applyFlags
	flt := filter.New("")

	cmd := &cobra.Command{
		Use:   "apply [options] [<patch>...]",
		Short: "Apply a patch to files and/or to the index",
		Long: `Reads the supplied diffs (or standard input) and applies them to the
working tree, the index, or both. Either every file applies or nothing is
written, unless --reject is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, &f, flt, args)
		},
	}

	fs := cmd.Flags()
	fs.BoolVar(&f.check, "check", false, "only check whether the patches apply")
	fs.BoolVar(&f.index, "index", false, "apply to the index and the working tree")
	fs.BoolVar(&f.cached, "cached", false, "apply to the index only")
	fs.BoolVarP(&f.threeWay, "3way", "3", false, "fall back on a three-way merge")
	fs.BoolVar(&f.reject, "reject", false, "apply the files that apply and report the rest")
	fs.BoolVar(&f.unidiffZero, "unidiff-zero", false, "accept fragments without context")
	fs.BoolVar(&f.ignoreWS, "ignore-whitespace", false, "ignore changes in whitespace in context lines")
	fs.BoolVar(&f.unsafePaths, "unsafe-paths", false, "allow patched paths outside the working area")
	fs.BoolVarP(&f.reverse, "reverse", "R", false, "apply the patches in reverse")
	fs.BoolVar(&f.recount, "recount", false, "ignore line counts in fragment headers")
	fs.BoolVar(&f.allowEmpty, "allow-empty", false, "do not fail on input without patches")
	fs.BoolVar(&f.stat, "stat", false, "show a diffstat instead of applying")
	fs.BoolVar(&f.numstat, "numstat", false, "show added and deleted line counts instead of applying")
	fs.BoolVar(&f.summary, "summary", false, "show created, deleted and renamed files instead of applying")
	fs.IntVarP(&f.strip, "strip", "p", 1, "remove N leading path components")
	fs.IntVarP(&f.minContext, "context", "C", -1, "ensure at least N lines of context match")
	fs.IntVar(&f.fuzz, "fuzz", -1, "maximum line offset of a fragment (-1 for none)")
	fs.StringVar(&f.whitespace, "whitespace", "", "whitespace error action: nowarn, warn, error, error-all or fix")
	fs.StringVar(&f.directory, "directory", "", "prepend ROOT to all file names")
	filter.BindFlags(fs, flt)
	return cmd
}

func runApply(cmd *cobra.Command, f *applyFlags, flt *filter.Filter, args []string) error {
	r, err := repo.Open(".", logger)
	switch {
	case err == nil:
		defer r.Close()
	case errors.IsType(err, errors.ErrorTypeNotFound):
		if f.index || f.cached || f.threeWay {
			return err
		}
		r = nil
	default:
		return err
	}

	cfg := config.Default()
	if r != nil {
		cfg = r.Config
	}
	opts, err := applyOptions(cmd, f, cfg)
	if err != nil {
		return err
	}
	opts.Filter = flt

	var env apply.Env
	if r != nil {
		flt.SetPrefix(r.Prefix)
		opts.Parse.Prefix = r.Prefix
		timeout, err := cfg.LockTimeout()
		if err != nil {
			return err
		}
		env = apply.Env{
			Worktree:    r.Worktree(),
			IndexPath:   r.IndexPath(),
			Blobs:       r.Blobs,
			Codec:       r.Codec,
			LockTimeout: timeout,
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		env.Worktree = target.OpenWorktree(cwd, logger)
	}

	if len(args) == 0 {
		args = []string{"-"}
	}
	for _, name := range args {
		input, err := readInput(cmd, name)
		if err != nil {
			return err
		}
		opts.InputName = name
		if name == "-" {
			opts.InputName = "<stdin>"
		}
		report, err := apply.Run(cmd.Context(), env, opts, input)
		if report != nil {
			if perr := printReport(cmd, f, report); perr != nil {
				return perr
			}
		}
		if err != nil {
			if report != nil && report.Failed() {
				return fmt.Errorf("%s: %d of %d patches did not apply",
					opts.InputName, report.Count(apply.Failed), len(report.Files))
			}
			return err
		}
	}
	return nil
}

func applyOptions(cmd *cobra.Command, f *applyFlags, cfg *config.Config) (apply.Options, error) {
	opts := apply.DefaultOptions()
	opts.Parse.StripComponents = f.strip
	opts.Parse.Root = f.directory
	opts.Parse.Reverse = f.reverse
	opts.Parse.Recount = f.recount

	opts.Check = f.check || f.stat || f.numstat || f.summary
	opts.Index = f.index
	opts.Cached = f.cached
	opts.ThreeWay = f.threeWay
	opts.BestEffort = f.reject
	opts.UnsafePaths = f.unsafePaths
	opts.AllowEmpty = f.allowEmpty
	opts.UnidiffZero = f.unidiffZero
	opts.IgnoreWhitespace = f.ignoreWS || cfg.Apply.IgnoreWhitespace

	opts.Fuzz = cfg.Apply.Fuzz
	if cmd.Flags().Changed("fuzz") {
		opts.Fuzz = f.fuzz
	}
	opts.MinContext = cfg.Apply.MinContext
	if cmd.Flags().Changed("context") {
		opts.MinContext = f.minContext
	}

	action, err := cfg.Action()
	if cmd.Flags().Changed("whitespace") {
		action, err = whitespace.ParseAction(f.whitespace)
	}
	if err != nil {
		return opts, err
	}
	opts.Whitespace = action

	rules, err := cfg.WhitespaceRules()
	if err != nil {
		return opts, err
	}
	opts.WhitespaceRules = rules
	opts.Logger = logger
	return opts, nil
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading standard input: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("can't open patch '%s': %w", name, err)
	}
	return data, nil
}

func printReport(cmd *cobra.Command, f *applyFlags, report *apply.Report) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	for _, msg := range report.Whitespace.Messages() {
		fmt.Fprintln(stderr, msg)
	}
	if s := report.Whitespace.Summary(); s != "" {
		fmt.Fprintln(stderr, yellow(s))
	}

	for _, file := range report.Files {
		for _, w := range file.Warnings {
			fmt.Fprintln(stderr, w)
		}
		switch file.Outcome {
		case apply.Failed:
			fmt.Fprintf(stderr, "%s %v\n", red("error:"), file.Err)
		case apply.Conflicted:
			fmt.Fprintf(stdout, "%s %s\n", yellow("U"), file.Path())
		case apply.Clean:
			if verbose {
				fmt.Fprintf(stderr, "Applied patch %s %s.\n", file.Path(), green("cleanly"))
			}
		}
	}

	if f.stat {
		if err := report.WriteStat(stdout); err != nil {
			return err
		}
	}
	if f.numstat {
		if err := report.WriteNumstat(stdout); err != nil {
			return err
		}
	}
	if f.summary {
		if err := report.WriteSummary(stdout); err != nil {
			return err
		}
	}
	return nil
}
