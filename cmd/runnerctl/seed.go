package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"example.com/runnerz/internal/domain"
	"example.com/runnerz/internal/seed"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load runs from a JSON file into an empty store",
		Example: `  runnerctl seed --file ./data/runs.json
  SEED_FILE=./data/runs.json runnerctl seed --driver sqlite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				path = cfg.SeedFile
			}
			if path == "" {
				return errors.New("no seed file: pass --file or set SEED_FILE")
			}

			ctx, cancel := setupSignalHandler()
			defer cancel()

			store, err := openStore(ctx, true)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := seed.LoadFile(ctx, domain.NewService(store.Repository), path, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d runs\n", n)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "Path to the JSON seed document")
	return cmd
}
