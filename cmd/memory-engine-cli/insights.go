package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sematica-ai/memory-engine/internal/memory"
	"github.com/sematica-ai/memory-engine/internal/storage"
)

// newStoreCmd creates the store subcommand.
func newStoreCmd() *cobra.Command {
	var (
		domain  string
		source  string
		repo    string
		pr      string
		author  string
		project string
		taskRef string
	)

	cmd := &cobra.Command{
		Use:   "store [text]",
		Short: "Store free text as normalized insights",
		Long: `Store decomposes free text into atomic statements, classifies each
into a semantic frame, and saves them with subject tags and embeddings.

Git provenance flags link the insights into the knowledge graph.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			result, err := env.service.StoreInsight(ctx, memory.StoreInsightRequest{
				Text:   args[0],
				Domain: domain,
				Source: source,
				Git: storage.GitContext{
					Repo:    repo,
					PR:      pr,
					Author:  author,
					Project: project,
					Task:    taskRef,
				},
			})
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(result)
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			if result.Stored == 0 {
				ui.Warning("%s", result.Message)
				return nil
			}
			ui.Success("Stored %d insight(s)", result.Stored)
			for _, ins := range result.Insights {
				ui.KeyValue(string(ins.Frame), fmt.Sprintf("%s (%.2f) [%s]",
					truncateText(ins.Normalized, 80), ins.Confidence, ins.ID[:8]))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "comma-separated domain tags")
	cmd.Flags().StringVarP(&source, "source", "s", "", "source label for provenance")
	cmd.Flags().StringVar(&repo, "repo", "", "git repository for provenance")
	cmd.Flags().StringVar(&pr, "pr", "", "pull request reference for provenance")
	cmd.Flags().StringVar(&author, "author", "", "author for provenance")
	cmd.Flags().StringVar(&project, "project", "", "project for provenance")
	cmd.Flags().StringVar(&taskRef, "task", "", "task reference for provenance")

	return cmd
}

// newSearchCmd creates the search subcommand.
func newSearchCmd() *cobra.Command {
	var (
		domain string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search insights by semantic similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			results, err := env.service.SearchInsights(ctx, args[0], domain, limit)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"results": results})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			printSearchResults(ui, results)
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "restrict to a domain tag")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")

	return cmd
}

// newListCmd creates the list subcommand.
func newListCmd() *cobra.Command {
	var (
		domain string
		frame  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored insights, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			insights, err := env.service.ListInsights(ctx, domain, frame, limit)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"insights": insights})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			printInsightTable(ui, insights)
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "filter by domain tag")
	cmd.Flags().StringVarP(&frame, "frame", "f", "", "filter by semantic frame")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")

	return cmd
}

// newGetCmd creates the get subcommand.
func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show one insight by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			insight, err := env.service.GetInsight(ctx, args[0])
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(insight)
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			printInsightDetail(ui, insight)
			return nil
		},
	}
}

// newUpdateCmd creates the update subcommand.
func newUpdateCmd() *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update allowlisted fields of an insight",
		Long: `Update applies field=value pairs to an insight. Allowed fields:
normalized_text, frame, confidence, source, and the tag lists
(domains, entities, problems, resolutions, contexts) as comma-separated
values.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(fields) == 0 {
				return fmt.Errorf("at least one --set field=value is required")
			}

			updates := make(map[string]interface{}, len(fields))
			for _, f := range fields {
				key, value, ok := strings.Cut(f, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, expected field=value", f)
				}
				updates[key] = parseFieldValue(key, value)
			}

			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			insight, err := env.service.UpdateInsight(ctx, args[0], updates)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(insight)
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Updated insight %s", insight.ID)
			printInsightDetail(ui, insight)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&fields, "set", nil, "field=value pair to update (repeatable)")

	return cmd
}

// newForgetCmd creates the forget subcommand.
func newForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget [id]",
		Short: "Permanently delete an insight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.service.Forget(ctx, args[0]); err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]bool{"deleted": true})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Deleted insight %s", args[0])
			return nil
		},
	}
}

// newRelatedCmd creates the related subcommand.
func newRelatedCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "related [id]",
		Short: "Show insights connected through the relation graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			results, err := env.service.RelatedInsights(ctx, args[0], limit)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"results": results})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			printSearchResults(ui, results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")

	return cmd
}

// parseFieldValue coerces a CLI string into the type the update expects.
func parseFieldValue(key, value string) interface{} {
	switch key {
	case "confidence":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		return value
	case "domains", "entities", "problems", "resolutions", "contexts":
		var parts []interface{}
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		return parts
	}
	return value
}

func printSearchResults(ui *UI, results []*storage.SearchResult) {
	if len(results) == 0 {
		ui.Info("No results.")
		return
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Insight.ID[:8],
			fmt.Sprintf("%.3f", r.Score),
			string(r.Insight.Frame),
			truncateText(r.Insight.NormalizedText, 70),
		})
	}
	ui.Table([]string{"ID", "SCORE", "FRAME", "TEXT"}, rows)
}

func printInsightTable(ui *UI, insights []*storage.Insight) {
	if len(insights) == 0 {
		ui.Info("No insights.")
		return
	}
	rows := make([][]string, 0, len(insights))
	for _, ins := range insights {
		rows = append(rows, []string{
			ins.ID[:8],
			string(ins.Frame),
			fmt.Sprintf("%.2f", ins.Confidence),
			strings.Join(ins.Domains, ","),
			truncateText(ins.NormalizedText, 60),
			formatTime(ins.CreatedAt),
		})
	}
	ui.Table([]string{"ID", "FRAME", "CONF", "DOMAINS", "TEXT", "CREATED"}, rows)
}

func printInsightDetail(ui *UI, ins *storage.Insight) {
	ui.KeyValue("id", ins.ID)
	ui.KeyValue("frame", ins.Frame)
	ui.KeyValue("confidence", fmt.Sprintf("%.2f", ins.Confidence))
	ui.KeyValue("normalized", ins.NormalizedText)
	if ins.Text != ins.NormalizedText {
		ui.KeyValue("original", truncateText(ins.Text, 200))
	}
	tagGroups := []struct {
		key  string
		tags []string
	}{
		{"domains", ins.Domains},
		{"entities", ins.Entities},
		{"problems", ins.Problems},
		{"resolutions", ins.Resolutions},
		{"contexts", ins.Contexts},
	}
	for _, g := range tagGroups {
		if len(g.tags) > 0 {
			ui.KeyValue(g.key, strings.Join(g.tags, ", "))
		}
	}
	if ins.Source != "" {
		ui.KeyValue("source", ins.Source)
	}
	ui.KeyValue("created", formatTime(ins.CreatedAt))
}
