// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Ingest a directory tree of documents",
		Long:  "Walk a directory, OCR and embed every supported document, and add the chunks to the index. Each file's owner is the name of its parent directory.",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := wireApp(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	progress := func(processed, total int, label string) {
		if label == "" {
			return
		}
		fmt.Fprintf(out, "[%d/%d] %s\n", processed, total, label)
	}

	n, err := app.Pipeline.IngestTree(cmd.Context(), args[0], progress)
	if err != nil {
		return err
	}

	count, err := app.Store.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Processed %d file(s); index now holds %d chunk(s).\n", n, count)
	return nil
}
