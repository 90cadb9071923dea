package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/source"
)

var (
	docKind  string
	docTitle string
	docCheck bool
)

// docCmd groups document registry commands
var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Register and list requirement documents",
}

var docAddCmd = &cobra.Command{
	Use:   "add <path-or-url>",
	Short: "Register a document",
	Long: `Register a local file or an http(s) URL as a BRD or FRD document.

Supported formats: txt, md, json, html, docx, pdf.

Example:
  reqflow doc add ./specs/payments-frd.docx --kind frd
  reqflow doc add https://wiki.example.com/brd.html --kind brd --title "Checkout BRD"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := model.ParseDocKind(docKind)
		if err != nil {
			return err
		}
		location := args[0]
		if !source.IsRemote(location) {
			if location, err = filepath.Abs(strings.TrimPrefix(location, "file://")); err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
		}
		title := docTitle
		if title == "" {
			title = source.TitleFromLocation(location)
		}

		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			if docCheck {
				ex, err := a.source.Extract(ctx, model.Document{ID: "new", Kind: kind, Location: location, Title: title})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "✓ Readable as %s (%d characters)\n", ex.Format, len(ex.Text))
			}

			doc, err := a.store.PutDocument(ctx, model.Document{Kind: kind, Location: location, Title: title})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
			return nil
		})
	},
}

var docListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			docs, err := a.store.Documents(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tTITLE\tLOCATION")
			for _, d := range docs {
				location := d.Location
				if d.SourceID != "" {
					location = "converted from " + d.SourceID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Kind, d.Title, location)
			}
			return tw.Flush()
		})
	},
}

// segmentCmd previews segmentation without calling the backend
var segmentCmd = &cobra.Command{
	Use:   "segment <document-id>",
	Short: "Show how a document is split into sections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			segs, err := a.runner.Segments(ctx, args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tLABEL\tWORDS\tFIRST LINE")
			for _, s := range segs {
				first, _, _ := strings.Cut(s.Text, "\n")
				if len(first) > 60 {
					first = first[:57] + "..."
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", s.Ordinal, s.Label, len(strings.Fields(s.Text)), first)
			}
			return tw.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(docCmd, segmentCmd)
	docCmd.AddCommand(docAddCmd, docListCmd)

	docAddCmd.Flags().StringVar(&docKind, "kind", "frd", "document kind (brd or frd)")
	docAddCmd.Flags().StringVar(&docTitle, "title", "", "document title (default: derived from the location)")
	docAddCmd.Flags().BoolVar(&docCheck, "check", true, "extract the text once to verify the document is readable")
}
