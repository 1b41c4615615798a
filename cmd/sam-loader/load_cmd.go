package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/extract"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/modules/sam/services"
)

type loadOptions struct {
	dataType   string
	historic   bool
	update     bool
	local      string
	remote     bool
	reloadDate string
}

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", samerrors.ErrUsage, fmt.Sprintf(format, args...))
}

func parseDataTypes(v string) ([]extract.DataType, error) {
	switch strings.TrimSpace(v) {
	case "duns":
		return []extract.DataType{extract.Entities}, nil
	case "exec_comp":
		return []extract.DataType{extract.ExecComp}, nil
	case "both":
		return []extract.DataType{extract.Entities, extract.ExecComp}, nil
	case "":
		return nil, usageErr("--data-type is required")
	default:
		return nil, usageErr("--data-type must be duns, exec_comp or both, got %q", v)
	}
}

// sourceFlags checks that exactly one of --local and --remote was given.
func sourceFlags(local string, remote bool) error {
	switch {
	case local != "" && remote:
		return usageErr("--local and --remote are mutually exclusive")
	case local == "" && !remote:
		return usageErr("one of --local or --remote is required")
	}
	return nil
}

func (o loadOptions) runOptions() (services.RunOptions, error) {
	var ro services.RunOptions
	dataTypes, err := parseDataTypes(o.dataType)
	if err != nil {
		return ro, err
	}
	ro.DataTypes = dataTypes

	switch {
	case o.historic && o.update:
		return ro, usageErr("--historic and --update are mutually exclusive")
	case o.historic:
		ro.Mode = services.ModeHistoric
	case o.update:
		ro.Mode = services.ModeUpdate
	default:
		return ro, usageErr("one of --historic or --update is required")
	}
	if err := sourceFlags(o.local, o.remote); err != nil {
		return ro, err
	}

	if o.reloadDate != "" {
		if !o.update {
			return ro, usageErr("--reload-date requires --update")
		}
		d, err := dateFlag(o.reloadDate)
		if err != nil {
			return ro, usageErr("--reload-date %q is not YYYY-MM-DD", o.reloadDate)
		}
		ro.ReloadDate = d
	}
	return ro, nil
}

func newLoadCmd(root *rootOptions) *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Apply SAM entity or exec-comp extracts (monthly then dailies) to the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			runOpts, err := opts.runOptions()
			if err != nil {
				return err
			}
			return runLoad(cmd, root, opts, runOpts)
		},
	}

	cmd.Flags().StringVar(&opts.dataType, "data-type", "", "Data to load: duns, exec_comp or both (required)")
	cmd.Flags().BoolVar(&opts.historic, "historic", false, "Load the earliest monthly, then every later daily")
	cmd.Flags().BoolVar(&opts.update, "update", false, "Resume dailies from the latest stored modification date")
	cmd.Flags().StringVar(&opts.local, "local", "", "Directory holding the extract zip files")
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "Download extracts over SFTP or the HTTP file API")
	cmd.Flags().StringVar(&opts.reloadDate, "reload-date", "", "First daily to apply, YYYY-MM-DD (only with --update)")
	return cmd
}

func runLoad(cmd *cobra.Command, root *rootOptions, opts loadOptions, runOpts services.RunOptions) error {
	ctx := cmd.Context()
	s, err := openSession(root, services.ScriptName(runOpts.DataTypes))
	if err != nil {
		return err
	}
	defer s.Close()
	runOpts.RunID = s.runID

	lister, fetcher, err := s.fileSource(ctx, opts.local, opts.remote)
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
		Backfill:       s.backfill(store),
		RemoveFetched:  opts.remote,
		MetricsDir:     s.conf.MetricsDir,
		PushgatewayURL: s.conf.PushgatewayURL,
		Logger:         s.logger,
	})
	doc, err := loader.Run(ctx, runOpts)
	if err != nil {
		return err
	}
	return writeJSONLine(cmd.OutOrStdout(), doc)
}
