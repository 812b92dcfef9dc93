package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"compintel/internal/storage"
)

func newPagesCmd() *cobra.Command {
	var params storage.PageListParams
	cmd := &cobra.Command{
		Use:   "pages RUN_ID",
		Short: "List stored pages of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPages(cmd.Context(), args[0], params)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&params.Page, "page", 1, "Result page")
	fl.IntVar(&params.PageSize, "page-size", 20, "Results per page")
	fl.StringVar(&params.Search, "q", "", "Filter by url or title substring")
	fl.StringVar(&params.Classification, "class", "", "Filter by classification")
	return cmd
}

// runPages prints one page of stored results for a run.
func runPages(ctx context.Context, runID string, params storage.PageListParams) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DB.DSN == "" {
		return errors.New("pages: db.dsn or DATABASE_URL must be set")
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "postgres"
	}
	writer, err := storage.NewSQLWriter(cfg.DB)
	if err != nil {
		return err
	}
	defer writer.Close()

	result, err := writer.ListPages(ctx, runID, params)
	if err != nil {
		return err
	}
	for _, item := range result.Items {
		mode := colorDim("plain")
		if item.Rendered {
			mode = colorInfo("rendered")
		}
		fmt.Printf("%s %-14s %-8s %s %s\n", prefixItem, item.Classification, mode, item.URL, colorDim(item.Title))
	}
	logInfo("page %d, %d of %d results", result.Page, len(result.Items), result.Total)
	return nil
}
