package main

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/sematica-ai/memory-engine/internal/ingest"
	"github.com/sematica-ai/memory-engine/internal/memory"
)

// newKBCmd creates the kb command group.
func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage knowledge bases built from documentation sites",
	}

	cmd.AddCommand(newKBAddCmd())
	cmd.AddCommand(newKBListCmd())
	cmd.AddCommand(newKBSearchCmd())
	cmd.AddCommand(newKBRefreshCmd())
	cmd.AddCommand(newKBDeleteCmd())
	cmd.AddCommand(newKBIngestDirCmd())

	return cmd
}

// newKBAddCmd creates the kb add subcommand.
func newKBAddCmd() *cobra.Command {
	var (
		url         string
		description string
		scrapeOnly  bool
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create a knowledge base and ingest a documentation site",
		Long: `Add crawls a documentation site (or scrapes a single page with
--scrape-only), normalizes every page into semantic chunks, and stores
them under the named knowledge base.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			progress, finish := crawlProgress(fmt.Sprintf("crawling %s", url))
			result, err := env.service.AddKnowledgeBase(ctx, memory.AddKnowledgeBaseRequest{
				Name:        args[0],
				URL:         url,
				Description: description,
				ScrapeOnly:  scrapeOnly,
				Limit:       limit,
			}, progress)
			finish()
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(result)
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Knowledge base %q created: %d chunks stored", args[0], result.ChunksStored)
			return nil
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "site URL to ingest (required)")
	cmd.Flags().StringVar(&description, "description", "", "knowledge base description")
	cmd.Flags().BoolVar(&scrapeOnly, "scrape-only", false, "fetch only the given page, no crawl")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pages to crawl (0 = config default)")

	_ = cmd.MarkFlagRequired("url")

	return cmd
}

// newKBListCmd creates the kb list subcommand.
func newKBListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List knowledge bases with chunk counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			list, err := env.service.ListKnowledgeBases(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"knowledge_bases": list})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			if len(list) == 0 {
				ui.Info("No knowledge bases.")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, kb := range list {
				rows = append(rows, []string{
					kb.Name,
					kb.SourceType,
					fmt.Sprintf("%d", kb.ChunkCount),
					truncateText(kb.Description, 50),
					formatTime(kb.UpdatedAt),
				})
			}
			ui.Table([]string{"NAME", "SOURCE", "CHUNKS", "DESCRIPTION", "UPDATED"}, rows)
			return nil
		},
	}
}

// newKBSearchCmd creates the kb search subcommand.
func newKBSearchCmd() *cobra.Command {
	var (
		kbName string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search knowledge-base chunks by semantic similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			results, err := env.service.SearchKnowledgeBase(ctx, args[0], kbName, limit)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"results": results})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			if len(results) == 0 {
				ui.Info("No results.")
				return nil
			}
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{
					fmt.Sprintf("%.3f", r.Score),
					string(r.Chunk.Frame),
					truncateText(r.Chunk.NormalizedText, 60),
					truncateText(r.Chunk.SourceURL, 40),
				})
			}
			ui.Table([]string{"SCORE", "FRAME", "TEXT", "SOURCE"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&kbName, "kb", "", "restrict to one knowledge base")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")

	return cmd
}

// newKBRefreshCmd creates the kb refresh subcommand.
func newKBRefreshCmd() *cobra.Command {
	var (
		url        string
		scrapeOnly bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "refresh [name]",
		Short: "Re-ingest a knowledge base, replacing its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			progress, finish := crawlProgress(fmt.Sprintf("refreshing %s", args[0]))
			result, err := env.service.RefreshKnowledgeBase(ctx, args[0], url, scrapeOnly, limit, progress)
			finish()
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(result)
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Knowledge base %q refreshed: %d chunks stored", args[0], result.ChunksStored)
			return nil
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "site URL to ingest (required)")
	cmd.Flags().BoolVar(&scrapeOnly, "scrape-only", false, "fetch only the given page, no crawl")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pages to crawl (0 = config default)")

	_ = cmd.MarkFlagRequired("url")

	return cmd
}

// newKBDeleteCmd creates the kb delete subcommand.
func newKBDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a knowledge base and all its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.service.DeleteKnowledgeBase(ctx, args[0]); err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]bool{"deleted": true})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Deleted knowledge base %q", args[0])
			return nil
		},
	}
}

// newKBIngestDirCmd creates the kb ingest-dir subcommand.
func newKBIngestDirCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "ingest-dir [directory]",
		Short: "Ingest previously crawled JSON files from a directory",
		Long: `Ingest-dir loads Firecrawl-format JSON files ({"markdown": ...,
"metadata": {...}}) from a local directory into a knowledge base,
creating the base if it does not exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			var bar *mpb.Bar
			var progress ingest.ProgressFunc
			if !outputJSON {
				progress = func(current, total int, url string) {
					if bar == nil {
						bar = ui.ProgressBar("ingesting", int64(total))
					}
					if bar != nil {
						bar.SetCurrent(int64(current))
					}
				}
			}

			result, err := env.service.IngestKnowledgeBaseDirectory(ctx, name, args[0], progress)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(result)
			}
			ui.Success("Ingested %d chunks into %q", result.ChunksStored, name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "knowledge base name (required)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

// crawlProgress returns a ProgressFunc that shows a spinner while the
// crawl runs and switches to a page progress bar once pages start
// arriving. The returned finish func must be called when ingestion ends.
func crawlProgress(label string) (ingest.ProgressFunc, func()) {
	if outputJSON || !isTerminal() {
		return nil, func() {}
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " " + label
	spin.Start()

	var bar *progressbar.ProgressBar
	progress := func(current, total int, url string) {
		if bar == nil {
			spin.Stop()
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("ingesting pages"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(current)
	}
	finish := func() {
		spin.Stop()
		if bar != nil {
			_ = bar.Finish()
		}
	}
	return progress, finish
}
