package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSubjectCmd creates the subject subcommand for subject-scoped search.
func newSubjectCmd() *cobra.Command {
	var (
		kind  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "subject [name]",
		Short: "List insights tagged with a subject",
		Long: `Subject looks up every insight tagged with the named subject.
Names are matched case-insensitively; --kind narrows to one subject kind
(domain, entity, problem, resolution, context, repo, pr, person,
project, task).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			insights, err := env.service.SearchBySubject(ctx, args[0], kind, limit)
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

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "subject kind filter")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")

	return cmd
}

// newRelateCmd creates the relate subcommand for adding graph edges.
func newRelateCmd() *cobra.Command {
	var (
		fromKind string
		toKind   string
	)

	cmd := &cobra.Command{
		Use:   "relate [from] [relation] [to]",
		Short: "Add a typed edge between two existing subjects",
		Long: `Relate records a directed, typed edge in the knowledge graph.
Both endpoints must already exist as subjects.

Example:
  memory-engine-cli relate "payments-api" has_problem "timeout under load" \
    --from-kind entity --to-kind problem`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.service.AddSubjectRelation(ctx, args[0], fromKind, args[1], args[2], toKind); err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]bool{"added": true})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("%s (%s) -[%s]-> %s (%s)", args[0], fromKind, args[1], args[2], toKind)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromKind, "from-kind", "", "kind of the source subject (required)")
	cmd.Flags().StringVar(&toKind, "to-kind", "", "kind of the target subject (required)")

	_ = cmd.MarkFlagRequired("from-kind")
	_ = cmd.MarkFlagRequired("to-kind")

	return cmd
}

// newRelationsCmd creates the relations subcommand for inspecting edges.
func newRelationsCmd() *cobra.Command {
	var (
		kind     string
		relation string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "relations [name]",
		Short: "Show graph edges touching a subject",
		Long: `Relations lists the typed edges touching the named subject, outgoing
before incoming. Without --kind the name is matched under every subject
kind; --relation narrows to one edge type.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			relations, err := env.service.GetSubjectRelations(ctx, args[0], kind, relation, limit)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"relations": relations})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			if len(relations) == 0 {
				ui.Info("No relations.")
				return nil
			}
			rows := make([][]string, 0, len(relations))
			for _, rel := range relations {
				rows = append(rows, []string{
					fmt.Sprintf("%s (%s)", rel.FromName, rel.FromKind),
					string(rel.RelationType),
					fmt.Sprintf("%s (%s)", rel.ToName, rel.ToKind),
				})
			}
			ui.Table([]string{"FROM", "RELATION", "TO"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "subject kind filter")
	cmd.Flags().StringVarP(&relation, "relation", "r", "", "relation type filter")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum edges")

	return cmd
}
