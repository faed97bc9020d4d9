// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <filename>",
		Short: "Delete a document's vectors from the index",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}

	cmd.Flags().String("owner", "", "owner of the document (required)")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := wireApp(cfg)
	if err != nil {
		return err
	}

	owner, _ := cmd.Flags().GetString("owner")
	removed, err := app.Store.Delete(args[0], owner)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !removed {
		fmt.Fprintf(out, "No indexed chunks for %s owned by %s.\n", args[0], owner)
		return nil
	}
	count, err := app.Store.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %s; index now holds %d chunk(s).\n", args[0], count)
	return nil
}
