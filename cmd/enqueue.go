package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

type enqueueOptions struct {
	tenantID string
	name     string
	website  string
}

func newEnqueueCmd() *cobra.Command {
	opts := &enqueueOptions{}
	cmd := &cobra.Command{
		Use:   "enqueue <company-id>",
		Short: "Registers a company and queues a crawl job for it",
		Long: `Upserts the company record and inserts a pending crawl job. A company with
an active job, or one crawled successfully inside the dedup window, is not
queued again; the existing job id is printed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.tenantID == "" {
				return errors.New("--tenant is required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			company := crawler.Company{ID: args[0], Name: opts.name, Website: opts.website}
			jobID, created, err := appInstance.Enqueue(cmd.Context(), opts.tenantID, company)
			if err != nil {
				return err
			}
			state := "queued"
			if !created {
				state = "exists"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", state, jobID)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.tenantID, "tenant", "", "tenant that owns the company")
	cmd.Flags().StringVar(&opts.name, "name", "", "company name")
	cmd.Flags().StringVar(&opts.website, "website", "", "company website; empty records a company without one")
	return cmd
}
