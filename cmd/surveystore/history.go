package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nainya/surveystore/pkg/document"
	"github.com/nainya/surveystore/pkg/lineage"
	"github.com/nainya/surveystore/pkg/storage"
	"github.com/nainya/surveystore/pkg/version"
)

var historyCmd = &cobra.Command{
	Use:   "history <document-id>",
	Short: "Print every version in the family of a survey",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	doc, err := a.store.GetDocument(ctx, args[0])
	if err != nil {
		return fmt.Errorf("document %s: %w", args[0], err)
	}
	docs, err := a.store.ListDocuments(ctx, storage.DocumentFilter{OrganizationID: doc.OrganizationID})
	if err != nil {
		return err
	}

	family, err := a.resolver.History(doc.ID, docs)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), family)
}

func printHistory(out io.Writer, family []*document.Document) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tID\tPARENT\tCREATED\tLATEST\tCHANGELOG")
	for _, d := range family {
		latest := ""
		if lineage.IsLatest(d, family) {
			latest = "*"
		}
		parent := d.Parent()
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			version.Format(d.Version), d.ID, parent,
			d.CreatedAt.Format("2006-01-02 15:04"), latest, d.Changelog)
	}
	return tw.Flush()
}
