package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

// newCrawlCmd crawls one website outside the job queue and prints the result.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <website>",
		Short: "Crawls a single website and prints the emails found",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := appInstance.Crawl(cmd.Context(), args[0])
			if skip, ok := crawler.AsSkip(err); ok {
				appInstance.GetLogger().Info("crawl skipped",
					zap.String("skip_reason_code", skip.Code.String()),
					zap.String("reason", skip.Reason),
				)
				return writeJSON(cmd, map[string]any{
					"status":           "skipped",
					"skip_reason_code": skip.Code,
					"skip_reason":      skip.Reason,
				})
			}
			if err != nil {
				return fmt.Errorf("crawl %s: %w", args[0], err)
			}
			return writeJSON(cmd, map[string]any{
				"status":        "done",
				"emails":        result.Emails,
				"pages_crawled": result.PagesCrawled,
			})
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
