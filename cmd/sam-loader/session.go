package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/sam-ingest/modules/sam/infrastructure/persistence"
	"github.com/iota-uz/sam-ingest/modules/sam/infrastructure/upstream"
	"github.com/iota-uz/sam-ingest/modules/sam/services"
	"github.com/iota-uz/sam-ingest/pkg/commands/common"
	"github.com/iota-uz/sam-ingest/pkg/configuration"
)

// session is the configuration, logger and database of one command invocation.
type session struct {
	conf   *configuration.Configuration
	script string
	runID  uuid.UUID
	logger *logrus.Entry
	pool   *pgxpool.Pool

	closers []func()
}

// openSession loads the configuration for a run reporting to the script metrics document. A
// configuration that does not load still leaves a failed document in METRICS_DIR. Commands that are
// not runs pass an empty script.
func openSession(ro *rootOptions, script string) (*session, error) {
	runID := uuid.New()
	conf, err := configuration.Load(configuration.LoadOptions{ConfigPath: ro.configPath})
	if err != nil {
		if script == "" {
			return nil, err
		}
		services.EmitAborted(script, runID, err, os.Getenv("METRICS_DIR"), os.Getenv("METRICS_PUSHGATEWAY_URL"), nil)
		return nil, err
	}
	ro.logger = conf.Logger()
	return &session{
		conf:    conf,
		script:  script,
		runID:   runID,
		logger:  conf.Logger().WithField("run_id", runID.String()),
		closers: []func(){conf.Unload},
	}, nil
}

// abort records err in the metrics document of a run whose setup failed and returns it.
func (s *session) abort(err error) error {
	services.EmitAborted(s.script, s.runID, err, s.conf.MetricsDir, s.conf.PushgatewayURL, s.logger)
	return err
}

func (s *session) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *session) store(ctx context.Context) (*persistence.Store, error) {
	if s.pool == nil {
		pool, err := common.GetDatabasePool(ctx, s.conf)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		s.onClose(pool.Close)
	}
	return persistence.NewStore(s.pool, persistence.NewStager(s.pool, s.logger)), nil
}

func (s *session) backfill(store services.BackfillStore) *services.ParentBackfill {
	return services.NewParentBackfill(store, services.ParentBackfillOptions{Logger: s.logger})
}

func (s *session) httpClient() *http.Client {
	return &http.Client{Timeout: s.conf.SAM.HTTPTimeout}
}

// fileSource serves a local directory, or the remote transports when remote is set.
func (s *session) fileSource(ctx context.Context, local string, remote bool) (services.Lister, upstream.Fetcher, error) {
	if !remote {
		files := services.LocalFiles{Dir: local}
		return files, files, nil
	}
	return s.remoteFiles(ctx)
}

// remoteFiles picks SFTP when it is configured and reachable and the HTTP file API otherwise. The
// returned lister is nil for HTTP, which has no listing.
func (s *session) remoteFiles(ctx context.Context) (services.Lister, upstream.Fetcher, error) {
	if err := s.conf.ValidateFileSource(); err != nil {
		return nil, nil, err
	}
	if s.conf.SFTPConfigured() {
		client, err := upstream.NewSFTPFileClient(upstream.SFTPOptions{
			Address:     s.conf.SFTP.Address(),
			User:        s.conf.SFTP.User,
			Password:    s.conf.SFTP.Password,
			KnownHosts:  s.conf.SFTP.KnownHosts,
			EntityDir:   s.conf.SFTP.EntityDir,
			ExecCompDir: s.conf.SFTP.ExecCompDir,
			DestDir:     s.conf.FileStoragePath,
			DialTimeout: s.conf.SFTP.DialTimeout,
			Logger:      s.logger,
		})
		if err != nil {
			return nil, nil, err
		}
		err = client.Connect(ctx)
		if err == nil {
			s.onClose(func() { _ = client.Close() })
			return client, client, nil
		}
		if !s.conf.HTTPConfigured() {
			return nil, nil, err
		}
		s.logger.WithError(err).Warn("sftp unreachable, falling back to the http file api")
	}
	client, err := upstream.NewHTTPFileClient(upstream.HTTPFileOptions{
		BaseURL:    s.conf.SAM.HTTPAPIURL,
		APIKey:     s.conf.SAM.HTTPAPIKey,
		DestDir:    s.conf.FileStoragePath,
		HTTPClient: s.httpClient(),
		Logger:     s.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, client, nil
}

func (s *session) lookupClient() (*upstream.LookupClient, error) {
	if err := s.conf.ValidateLookup(); err != nil {
		return nil, err
	}
	return upstream.NewLookupClient(upstream.LookupOptions{
		WSDL:       s.conf.SAM.WSDL,
		Username:   s.conf.SAM.Username,
		Password:   s.conf.SAM.Password,
		BatchSize:  s.conf.SAM.LookupBatchSize,
		RPS:        s.conf.SAM.LookupRPS,
		HTTPClient: s.httpClient(),
		Logger:     s.logger,
	})
}

func dateFlag(v string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, v, time.UTC)
}
