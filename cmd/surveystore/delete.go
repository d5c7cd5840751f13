package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nainya/surveystore/pkg/document"
	"github.com/nainya/surveystore/pkg/optimistic"
	"github.com/nainya/surveystore/pkg/storage"
	"github.com/nainya/surveystore/pkg/version"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete one survey version and print the organization's remaining list",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
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
	target, err := a.store.GetDocument(ctx, args[0])
	if err != nil {
		return fmt.Errorf("document %s: %w", args[0], err)
	}
	docs, err := a.store.ListDocuments(ctx, storage.DocumentFilter{
		OrganizationID: target.OrganizationID,
		OrderBy:        storage.OrderCreatedAt,
		Descending:     true,
	})
	if err != nil {
		return err
	}

	list := optimistic.New(docs, func(d *document.Document) string { return d.ID })
	sig := list.Delete(ctx, target.ID, a.writer.Delete)

	out := cmd.OutOrStdout()
	if sig.Kind == optimistic.SignalError {
		fmt.Fprintf(out, "delete of %s failed, list restored: %v\n", sig.ID, sig.Err)
	} else {
		fmt.Fprintf(out, "deleted %s (%s)\n", target.ID, version.Format(target.Version))
	}
	for _, d := range list.Items() {
		fmt.Fprintf(out, "  %s  %-6s %s\n", d.ID, version.Format(d.Version), d.Title)
	}
	return sig.Err
}
