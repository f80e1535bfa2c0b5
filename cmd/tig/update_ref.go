package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tigapply/internal/refs"
	"tigapply/internal/repo"
)

func newUpdateRefCmd() *cobra.Command {
	var (
		message string
		noDeref bool
		del     bool
		stdin   bool
		nul     bool
	)

	cmd := &cobra.Command{
		Use: "update-ref [-m <reason>] [--no-deref] (-d <ref> [<old-oid>] | <ref> <new-oid> [<old-oid>] | --stdin [-z])",
		Short: "Update the object name stored in a ref safely",
		Long: `Updates one ref, or with --stdin a whole list of refs in a single
transaction: either every update is committed or none is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if nul && !stdin {
				return fmt.Errorf("-z only makes sense with --stdin")
			}

			var updates []refs.Update
			switch {
			case stdin:
				if del || len(args) > 0 {
					return fmt.Errorf("--stdin takes no other arguments")
				}
				parsed, err := refs.ReadCommands(cmd.InOrStdin(), nul)
				if err != nil {
					return err
				}
				updates = parsed
			case del:
				if len(args) < 1 || len(args) > 2 {
					return fmt.Errorf("usage: tig update-ref -d <ref> [<old-oid>]")
				}
				u := refs.Update{Op: refs.OpDelete, Ref: args[0]}
				if len(args) == 2 {
					u.Old, u.HaveOld = oidArg(args[1]), true
				}
				updates = append(updates, u)
			default:
				if len(args) < 2 || len(args) > 3 {
					return fmt.Errorf("usage: tig update-ref <ref> <new-oid> [<old-oid>]")
				}
				u := refs.Update{Op: refs.OpUpdate, Ref: args[0], New: oidArg(args[1])}
				if len(args) == 3 {
					u.Old, u.HaveOld = oidArg(args[2]), true
				}
				updates = append(updates, u)
			}

			r, err := repo.Open(".", logger)
			if err != nil {
				return err
			}
			defer r.Close()

			tx := r.Refs.Begin(message)
			for _, u := range updates {
				u.NoDeref = u.NoDeref || noDeref
				if err := tx.Queue(u); err != nil {
					tx.Abort()
					return err
				}
			}
			return tx.Commit(cmd.Context())
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&message, "message", "m", "", "reason recorded in the reflog")
	fs.BoolVar(&noDeref, "no-deref", false, "update the symbolic ref itself instead of its target")
	fs.BoolVarP(&del, "delete", "d", false, "delete the ref")
	fs.BoolVar(&stdin, "stdin", false, "read update commands from standard input")
	fs.BoolVarP(&nul, "null", "z", false, "NUL-terminated standard input format")
	return cmd
}

// oidArg maps the empty string to the zero oid, as the stdin format does.
func oidArg(s string) string {
	if s == "" {
		return refs.ZeroOID
	}
	return s
}
