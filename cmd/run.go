package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/council-sessions/internal/discovery"
	"github.com/JakeFAU/council-sessions/internal/downloader"
	"github.com/JakeFAU/council-sessions/internal/extractor"
)

type walkOptions struct {
	relist bool
}

// newRunCmd creates the 'run' subcommand: list, extract and download in order.
func newRunCmd() *cobra.Command {
	opts := &walkOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Lists new sessions, extracts their details and downloads their files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFull(cmd, opts.relist)
		},
	}
	cmd.Flags().BoolVar(&opts.relist, "relist", false, "ignore stored dates and walk back to the stop date")
	return cmd
}

// newListCmd creates the 'list' subcommand.
func newListCmd() *cobra.Command {
	opts := &walkOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Walks the listing and records sessions not seen before",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.List(cmd.Context(), opts.relist)
			printSummary(cmd.OutOrStdout(), summary)
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.relist, "relist", false, "ignore stored dates and walk back to the stop date")
	return cmd
}

// newExtractCmd creates the 'extract' subcommand.
func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Attaches agenda sections to stored sessions that have none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Extract(cmd.Context())
			printDetails(cmd.OutOrStdout(), res)
			return err
		},
	}
}

// newDownloadCmd creates the 'download' subcommand.
func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Downloads session files whose names match the configured patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Download(cmd.Context())
			printDownload(cmd.OutOrStdout(), res)
			return err
		},
	}
}

func runFull(cmd *cobra.Command, relist bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	report, err := appInstance.Run(cmd.Context(), relist)
	out := cmd.OutOrStdout()
	printSummary(out, report.Listing)
	printDetails(out, report.Details)
	printDownload(out, report.Download)
	return err
}

func printSummary(w io.Writer, s discovery.Summary) {
	fmt.Fprintf(w, "listing: %d new, %d known, %d skipped, %d stored, %d pages (stop: %s)\n",
		s.NewCount, s.KnownCount, s.SkippedCount, s.StoredCount, s.PagesVisited, s.StopReason)
	if len(s.NewDates) > 0 {
		fmt.Fprintf(w, "new sessions: %s\n", strings.Join(s.NewDates, ", "))
	}
}

func printDetails(w io.Writer, r extractor.Result) {
	fmt.Fprintf(w, "details: %d extracted, %d failed, %d ignored\n", r.Extracted, r.Failed, r.Ignored)
}

func printDownload(w io.Writer, r downloader.Result) {
	fmt.Fprintf(w, "files: %d downloaded, %d existing, %d ignored, %d failed\n",
		r.Downloaded, r.Existing, r.Ignored, r.Failed)
}
