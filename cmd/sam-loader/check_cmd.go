package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/pkg/commands/common"
	"github.com/iota-uz/sam-ingest/pkg/configuration"
)

var registryTables = []string{"duns", "historic_parent_duns"}

type readiness struct {
	LookupReady    bool     `json:"lookup_ready"`
	SFTPConfigured bool     `json:"sftp_configured"`
	HTTPConfigured bool     `json:"http_configured"`
	DatabaseOK     *bool    `json:"database_ok,omitempty"`
	MissingTables  []string `json:"missing_tables,omitempty"`
	Ready          bool     `json:"ready"`
	Problems       []string `json:"problems,omitempty"`
}

func checkReadiness(conf *configuration.Configuration) readiness {
	r := readiness{
		LookupReady:    conf.LookupReady(),
		SFTPConfigured: conf.SFTPConfigured(),
		HTTPConfigured: conf.HTTPConfigured(),
	}
	for _, err := range []error{conf.ValidateLookup(), conf.ValidateFileSource()} {
		if err != nil {
			r.Problems = append(r.Problems, err.Error())
		}
	}
	r.Ready = len(r.Problems) == 0
	return r
}

func newCheckConfigCmd(root *rootOptions) *cobra.Command {
	var database bool

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Report whether credentials and file transports are configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(root, "")
			if err != nil {
				return err
			}
			defer s.Close()

			r := checkReadiness(s.conf)
			if database {
				ok := true
				if _, err := s.store(cmd.Context()); err != nil {
					ok = false
					r.Problems = append(r.Problems, err.Error())
				} else if r.MissingTables, err = common.MissingTables(cmd.Context(), s.pool, registryTables...); err != nil {
					ok = false
					r.Problems = append(r.Problems, err.Error())
				} else if len(r.MissingTables) > 0 {
					r.Problems = append(r.Problems, "missing tables "+strings.Join(r.MissingTables, ", "))
				}
				r.DatabaseOK = &ok
				r.Ready = len(r.Problems) == 0
			}

			if err := writeJSONLine(cmd.OutOrStdout(), r); err != nil {
				return err
			}
			if !r.Ready {
				return fmt.Errorf("%w: %s", samerrors.ErrConfigInvalid, strings.Join(r.Problems, "; "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&database, "database", false, "Also connect to the database and check the registry tables")
	return cmd
}
