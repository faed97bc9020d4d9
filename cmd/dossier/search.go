// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package main

import (
	"fmt"

	"github.com/dossier-dev/dossier/internal/answer"
	dserr "github.com/dossier-dev/dossier/pkg/errors"
	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long:  "Embed the query, retrieve the nearest chunks, and print them. With --answer, also generate a grounded answer.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().String("owner", "", "restrict results to one owner")
	cmd.Flags().Int("k", 0, "number of results (defaults to the configured top-k)")
	cmd.Flags().Bool("answer", false, "generate an answer from the retrieved chunks")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := wireApp(cfg)
	if err != nil {
		return err
	}

	owner, _ := cmd.Flags().GetString("owner")
	k, _ := cmd.Flags().GetInt("k")
	if k <= 0 {
		k = cfg.Search.TopK
	}
	withAnswer, _ := cmd.Flags().GetBool("answer")
	if withAnswer && app.Answerer == nil {
		return dserr.New(dserr.CodeCLIInputInvalid, "answer collaborator is not configured")
	}

	query := args[0]
	vec, err := app.Embedder.Embed(cmd.Context(), query)
	if err != nil {
		return err
	}
	results, err := app.Store.Search(vec, k, owner)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}

	for i, r := range results {
		fmt.Fprintf(out, "%d. [%s] %s (distance %.4f)\n   %s\n", i+1, r.Owner, r.Filename, r.Distance, r.Text)
	}

	if withAnswer {
		contexts := make([]answer.Context, 0, len(results))
		for _, r := range results {
			contexts = append(contexts, answer.Context{Source: r.Source, Text: r.Text})
		}
		text, err := app.Answerer.Answer(cmd.Context(), query, contexts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nAnswer:\n%s\n", text)
	}
	return nil
}
