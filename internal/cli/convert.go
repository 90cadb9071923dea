package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/pipeline"
)

var (
	convertInstructions string
	convertAnalyze      bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <brd-id>",
	Short: "Convert a BRD into a new, linked FRD",
	Long: `Convert asks the backend for functional requirements for every section of
a business document, registers the result as a new FRD linked to the BRD and
records the requirements and the FRD text as the FRD's first version.

With --analyze the new FRD is analyzed for anomalies right away.

Example:
  reqflow convert 3f2c...
  reqflow convert 3f2c... --instructions "focus on validation rules" --analyze`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := taskContext(cmd)
		defer cancel()
		return withApp(cmd, true, func(_ context.Context, a *app) error {
			conv, err := a.runner.ConvertBRD(ctx, args[0], convertInstructions)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Registered FRD %s (%d requirements)\n", conv.Document.ID, len(conv.Version.Payload.Items))
			if len(conv.Failed) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "! Sections not converted: %v\n", conv.Failed)
			}

			v := conv.Version
			if convertAnalyze {
				if v, err = a.runner.Analyze(ctx, conv.Document.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "✓ Recorded version %d (seq %d, %s, %d items)\n", v.ID, v.Seq, v.Kind, len(v.Payload.Items))
			}
			if outFormat == "json" && !convertAnalyze {
				return pipeline.RenderJSON(cmd.OutOrStdout(), conv)
			}
			return writeVersion(cmd, a, v)
		})
	},
}

var conversionsCmd = &cobra.Command{
	Use:   "conversions <brd-id>",
	Short: "List the FRDs converted from a BRD, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			docs, err := a.runner.Conversions(ctx, args[0])
			if err != nil {
				return err
			}
			if outFormat == "json" {
				if docs == nil {
					docs = []model.Document{}
				}
				return pipeline.RenderJSON(cmd.OutOrStdout(), docs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSEQ\tTITLE")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", d.ID, d.Seq, d.Title)
			}
			return tw.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(convertCmd, conversionsCmd)

	convertCmd.Flags().StringVar(&convertInstructions, "instructions", "", "replace the default conversion request")
	convertCmd.Flags().BoolVar(&convertAnalyze, "analyze", false, "analyze the new FRD for anomalies")
	convertCmd.Flags().StringVarP(&outFormat, "format", "f", "summary", "output format (summary, md, json)")
	convertCmd.Flags().StringVarP(&outPath, "out", "o", "", "write output to a file instead of stdout")
	convertCmd.Flags().DurationVar(&taskTimeout, "timeout", 30*time.Minute, "overall timeout for the task")
	conversionsCmd.Flags().StringVarP(&outFormat, "format", "f", "summary", "output format (summary, json)")
}
