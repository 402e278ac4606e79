package mergecmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/repcoach/cmd/repcoach/sqlitepath"
	"github.com/papercomputeco/repcoach/pkg/merkle"
)

const mergeLongDesc string = `Merge one or more recorded conversation databases into a target.

Nodes are content-addressed, so merging is a union: coaching turns
already in the target are skipped. Nodes whose hash does not match
their content are reported and left out.

Examples:
  repcoach merge phone.sqlite laptop.sqlite
  repcoach merge --sqlite /tmp/all.sqlite ~/alice/repcoach.sqlite ~/bob/repcoach.sqlite`

const mergeShortDesc string = "Merge conversation databases"

type mergeCommander struct {
	sqlitePath string
}

func NewMergeCmd() *cobra.Command {
	cmder := &mergeCommander{}

	cmd := &cobra.Command{
		Use:   "merge [sources...]",
		Short: mergeShortDesc,
		Long:  mergeLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to target SQLite database")

	return cmd
}

// mergeCounts tallies one source.
type mergeCounts struct {
	added, existing, invalid int
}

func (c *mergeCommander) run(ctx context.Context, cmd *cobra.Command, sources []string) error {
	targetPath, err := sqlitepath.ResolveSQLitePath(c.sqlitePath)
	if err != nil {
		return fmt.Errorf("could not resolve target database: %w", err)
	}

	target, err := merkle.NewSQLiteStorer(targetPath)
	if err != nil {
		return fmt.Errorf("could not open target database %s: %w", targetPath, err)
	}
	defer target.Close()

	var total mergeCounts
	for _, srcPath := range sources {
		counts, err := mergeSource(ctx, target, srcPath)
		if err != nil {
			return err
		}

		total.added += counts.added
		total.existing += counts.existing
		total.invalid += counts.invalid

		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d new, %d already existed, %d invalid\n",
			srcPath, counts.added, counts.existing, counts.invalid)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d new nodes from %d sources (%d already existed) into %s\n",
		total.added, len(sources), total.existing, targetPath)

	return nil
}

func mergeSource(ctx context.Context, target merkle.Storer, srcPath string) (mergeCounts, error) {
	var counts mergeCounts

	source, err := merkle.NewSQLiteStorer(srcPath)
	if err != nil {
		return counts, fmt.Errorf("could not open source database %s: %w", srcPath, err)
	}
	defer source.Close()

	// List is in insertion order, so parents land before their children.
	nodes, err := source.List(ctx)
	if err != nil {
		return counts, fmt.Errorf("could not list nodes from %s: %w", srcPath, err)
	}

	for _, n := range nodes {
		if !merkle.VerifyHash(n) {
			counts.invalid++
			continue
		}

		isNew, err := target.Put(ctx, n)
		if err != nil {
			return counts, fmt.Errorf("could not put node %s: %w", n.Hash, err)
		}
		if isNew {
			counts.added++
		} else {
			counts.existing++
		}
	}

	return counts, nil
}
