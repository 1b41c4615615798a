package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/sam-ingest/modules/sam/services"
)

func newHistoricParentsCmd(root *rootOptions) *cobra.Command {
	var (
		local  string
		remote bool
	)

	cmd := &cobra.Command{
		Use:   "historic-parents",
		Short: "Load the parent of every entity as of each year-end monthly",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sourceFlags(local, remote); err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openSession(root, services.ScriptLoadHistoricParents)
			if err != nil {
				return err
			}
			defer s.Close()

			lister, fetcher, err := s.fileSource(ctx, local, remote)
			if err != nil {
				return s.abort(err)
			}
			store, err := s.store(ctx)
			if err != nil {
				return s.abort(err)
			}
			loader := services.NewLoader(services.LoaderOptions{
				Store:          store,
				Catalog:        services.NewCatalog(lister, time.Now),
				Fetcher:        fetcher,
				RemoveFetched:  remote,
				MetricsDir:     s.conf.MetricsDir,
				PushgatewayURL: s.conf.PushgatewayURL,
				Logger:         s.logger,
			})
			doc, err := loader.RunHistoricParents(ctx, s.runID)
			if err != nil {
				return err
			}
			return writeJSONLine(cmd.OutOrStdout(), doc)
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "Directory holding the monthly extract zip files")
	cmd.Flags().BoolVar(&remote, "remote", false, "List and download monthlies over SFTP")
	return cmd
}
