package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/pipeline"
)

var (
	outFormat   string
	outPath     string
	taskTimeout time.Duration
	fixIDs      []int
	reviseApply bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <document-id>",
	Short: "Extract anomalies from a document and record a generated version",
	Long: `Analyze splits the document into sections, asks the backend for anomalies
in each section and records the merged list as a new generated version.

Sections whose output cannot be parsed are skipped; the run fails only when
the backend itself is unusable (bad credentials, unknown model).

Example:
  reqflow analyze 3f2c... --format md --out review.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd, func(ctx context.Context, a *app) (model.Version, error) {
			return a.runner.Analyze(ctx, args[0])
		})
	},
}

var testcasesCmd = &cobra.Command{
	Use:   "testcases <document-id>",
	Short: "Generate test cases and record a generated version",
	Long: `Generate test cases for every section of the current text: the newest
version that carries text (applied fixes, or the body of a converted FRD),
else the source.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd, func(ctx context.Context, a *app) (model.Version, error) {
			return a.runner.GenerateTestCases(ctx, args[0])
		})
	},
}

var fixesCmd = &cobra.Command{
	Use:   "fixes",
	Short: "Propose and apply fixes for recorded anomalies",
}

var fixesProposeCmd = &cobra.Command{
	Use:   "propose <document-id>",
	Short: "Propose replacement text for anomalies (all, or --ids)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd, func(ctx context.Context, a *app) (model.Version, error) {
			return a.runner.ProposeFixes(ctx, args[0], fixIDs)
		})
	},
}

var fixesApplyCmd = &cobra.Command{
	Use:   "apply <document-id>",
	Short: "Apply proposed fixes (all, or --ids) to the document text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd, func(ctx context.Context, a *app) (model.Version, error) {
			return a.runner.ApplyFixes(ctx, args[0], fixIDs)
		})
	},
}

var reviseCmd = &cobra.Command{
	Use:   "revise <document-id> <request...>",
	Short: "Revise the latest version with a free-text request",
	Long: `Revise sends the items of the latest version and your request to the
backend and shows the resulting diff. Nothing is recorded unless --commit is
given.

Example:
  reqflow revise 3f2c... "merge the two refund anomalies"
  reqflow revise 3f2c... "raise all payment issues to high" --commit`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := taskContext(cmd)
		defer cancel()
		return withApp(cmd, true, func(_ context.Context, a *app) error {
			rev, err := a.runner.Revise(ctx, args[0], strings.Join(args[1:], " "), reviseApply)
			if err != nil {
				return err
			}
			if outFormat == "json" {
				return pipeline.RenderJSON(cmd.OutOrStdout(), rev)
			}
			pipeline.RenderDiff(cmd.OutOrStdout(), rev.Preview)
			if rev.Version != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✓ Recorded version %d (seq %d)\n", rev.Version.ID, rev.Version.Seq)
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "Preview only; re-run with --commit to record it")
			}
			return nil
		})
	},
}

var revertCmd = &cobra.Command{
	Use:   "revert <document-id> <version-id>",
	Short: "Copy an earlier version forward as a new reverted version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version id %q: %w", args[1], err)
		}
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			v, err := a.runner.Revert(ctx, args[0], id)
			if err != nil {
				return err
			}
			return writeVersion(cmd, a, v)
		})
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Inspect a document's version chain",
}

var versionsListCmd = &cobra.Command{
	Use:   "list <document-id>",
	Short: "List all versions of a document, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			history, err := a.versions.History(ctx, args[0])
			if err != nil {
				return err
			}
			if outFormat == "json" {
				return pipeline.RenderJSON(cmd.OutOrStdout(), history)
			}
			out := cmd.OutOrStdout()
			for _, v := range history {
				from := ""
				if v.DerivedFrom != nil {
					from = fmt.Sprintf(" <- %d", *v.DerivedFrom)
				}
				fmt.Fprintf(out, "%4d  seq %-3d %-12s %3d items%s  %s\n",
					v.ID, v.Seq, v.Kind, len(v.Payload.Items), from, v.CreatedAt.Local().Format(time.DateTime))
			}
			return nil
		})
	},
}

var versionsShowCmd = &cobra.Command{
	Use:   "show <document-id> [version-id]",
	Short: "Show one version (default: the latest)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			var (
				v   model.Version
				err error
			)
			if len(args) == 2 && args[1] != "latest" {
				id, perr := strconv.ParseInt(args[1], 10, 64)
				if perr != nil {
					return fmt.Errorf("invalid version id %q: %w", args[1], perr)
				}
				v, err = a.versions.Get(ctx, args[0], id)
			} else {
				v, err = a.versions.Latest(ctx, args[0], nil)
			}
			if err != nil {
				return err
			}
			return writeVersion(cmd, a, v)
		})
	},
}

// runTask runs a backend task and writes the version it created
func runTask(cmd *cobra.Command, fn func(ctx context.Context, a *app) (model.Version, error)) error {
	ctx, cancel := taskContext(cmd)
	defer cancel()
	return withApp(cmd, true, func(_ context.Context, a *app) error {
		v, err := fn(ctx, a)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Recorded version %d (seq %d, %s, %d items)\n", v.ID, v.Seq, v.Kind, len(v.Payload.Items))
		return writeVersion(cmd, a, v)
	})
}

func taskContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if taskTimeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), taskTimeout)
}

// writeVersion renders v in --format to --out or stdout
func writeVersion(cmd *cobra.Command, a *app, v model.Version) (err error) {
	var w io.Writer = cmd.OutOrStdout()
	if outPath != "" {
		f, cerr := os.Create(outPath)
		if cerr != nil {
			return fmt.Errorf("create output: %w", cerr)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close output: %w", closeErr)
			}
		}()
		w = f
	}
	return renderVersion(cmd.Context(), w, a, v, outFormat)
}

func renderVersion(ctx context.Context, w io.Writer, a *app, v model.Version, format string) error {
	switch format {
	case "json":
		return pipeline.RenderJSON(w, v)
	case "md", "markdown":
		doc, err := a.document(ctx, v.DocumentID)
		if err != nil {
			return err
		}
		return pipeline.RenderMarkdown(w, doc, v)
	case "summary", "":
		pipeline.RenderSummary(w, v)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want summary, md or json)", format)
	}
}

func init() {
	rootCmd.AddCommand(analyzeCmd, testcasesCmd, fixesCmd, reviseCmd, revertCmd, versionsCmd)
	fixesCmd.AddCommand(fixesProposeCmd, fixesApplyCmd)
	versionsCmd.AddCommand(versionsListCmd, versionsShowCmd)

	for _, c := range []*cobra.Command{analyzeCmd, testcasesCmd, fixesProposeCmd, fixesApplyCmd, reviseCmd, revertCmd, versionsListCmd, versionsShowCmd} {
		c.Flags().StringVarP(&outFormat, "format", "f", "summary", "output format (summary, md, json)")
	}
	for _, c := range []*cobra.Command{analyzeCmd, testcasesCmd, fixesProposeCmd, fixesApplyCmd, revertCmd, versionsShowCmd} {
		c.Flags().StringVarP(&outPath, "out", "o", "", "write output to a file instead of stdout")
	}
	for _, c := range []*cobra.Command{analyzeCmd, testcasesCmd, fixesProposeCmd, fixesApplyCmd, reviseCmd} {
		c.Flags().DurationVar(&taskTimeout, "timeout", 30*time.Minute, "overall timeout for the task")
	}
	for _, c := range []*cobra.Command{fixesProposeCmd, fixesApplyCmd} {
		c.Flags().IntSliceVar(&fixIDs, "ids", nil, "item ids to include (default: all)")
	}
	reviseCmd.Flags().BoolVar(&reviseApply, "commit", false, "record the revision as a new version")
}
