// Package samerrors defines the error kinds of the SAM ingestion pipeline.
package samerrors

import (
	"errors"

	"github.com/iota-uz/sam-ingest/pkg/serrors"
)

var (
	ErrConfigInvalid              = serrors.NewError("SAM_CONFIG_INVALID", "configuration invalid", "")
	ErrUpstreamCredentialsInvalid = serrors.NewError("SAM_UPSTREAM_CREDENTIALS_INVALID", "upstream rejected credentials", "")
	ErrUpstreamUnavailable        = serrors.NewError("SAM_UPSTREAM_UNAVAILABLE", "upstream unavailable", "")
	ErrFileNotFound               = serrors.NewError("SAM_FILE_NOT_FOUND", "file not found", "")
	ErrParse                      = serrors.NewError("SAM_PARSE_ERROR", "extract parse failed", "")
	ErrNoResumePoint              = serrors.NewError("SAM_NO_RESUME_POINT", "no stored modification date to resume from", "")
	ErrUsage                      = serrors.NewError("SAM_USAGE", "invalid arguments", "")
)

// Kind returns the code of err for the terminal log line; errors outside this package report
// SAM_DATABASE when they carry a pgx/pgconn error chain and SAM_INTERNAL otherwise.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	if code := serrors.Code(err); code != "" {
		return code
	}
	var dbErr interface{ SQLState() string }
	if errors.As(err, &dbErr) {
		return "SAM_DATABASE"
	}
	return "SAM_INTERNAL"
}
