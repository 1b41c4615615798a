package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/sam-ingest/modules/sam/services"
)

type parentsOptions struct {
	batchStart int
	batchEnd   int
	parentName bool
}

func (o parentsOptions) decorateOptions() (services.DecorateOptions, error) {
	if o.batchStart < 0 {
		return services.DecorateOptions{}, usageErr("--batch-start must not be negative")
	}
	if o.batchEnd > 0 && o.batchEnd <= o.batchStart {
		return services.DecorateOptions{}, usageErr("--batch-end %d must be greater than --batch-start %d", o.batchEnd, o.batchStart)
	}
	return services.DecorateOptions{
		BatchStart:     o.batchStart,
		BatchEnd:       o.batchEnd,
		ParentNameOnly: o.parentName,
	}, nil
}

func newParentsCmd(root *rootOptions) *cobra.Command {
	var opts parentsOptions

	cmd := &cobra.Command{
		Use:   "parents",
		Short: "Refresh historic registry rows from the entity lookup and backfill parent names",
		RunE: func(cmd *cobra.Command, args []string) error {
			decorateOpts, err := opts.decorateOptions()
			if err != nil {
				return err
			}
			return runParents(cmd, root, decorateOpts)
		},
	}

	cmd.Flags().IntVar(&opts.batchStart, "batch-start", 0, "First batch of 100 historic rows to look up")
	cmd.Flags().IntVar(&opts.batchEnd, "batch-end", 0, "Stop before this batch (default: run to the end)")
	cmd.Flags().BoolVar(&opts.parentName, "parent-name", false, "Only backfill parent names, without lookups")
	return cmd
}

func runParents(cmd *cobra.Command, root *rootOptions, opts services.DecorateOptions) error {
	ctx := cmd.Context()
	s, err := openSession(root, services.ScriptUpdateParentNames)
	if err != nil {
		return err
	}
	defer s.Close()
	opts.RunID = s.runID

	decoratorOpts := services.DecoratorOptions{
		MetricsDir:     s.conf.MetricsDir,
		PushgatewayURL: s.conf.PushgatewayURL,
		Logger:         s.logger,
	}
	if !opts.ParentNameOnly {
		client, err := s.lookupClient()
		if err != nil {
			return s.abort(err)
		}
		decoratorOpts.Lookup = client
	}
	store, err := s.store(ctx)
	if err != nil {
		return s.abort(err)
	}
	decoratorOpts.Store = store
	decoratorOpts.Backfill = s.backfill(store)

	doc, err := services.NewDecorator(decoratorOpts).Run(ctx, opts)
	if err != nil {
		return err
	}
	return writeJSONLine(cmd.OutOrStdout(), doc)
}
