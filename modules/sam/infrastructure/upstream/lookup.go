package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

const defaultLookupBatchSize = 100

type LookupOptions struct {
	WSDL     string
	Username string
	Password string

	// BatchSize caps the identifiers sent per request.
	BatchSize int
	// RPS limits requests per second; zero means unlimited.
	RPS float64

	HTTPClient *http.Client
	Retrier    Retrier
	Logger     *logrus.Entry
}

func (o *LookupOptions) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultLookupBatchSize
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Retrier.Logger == nil {
		o.Retrier.Logger = o.Logger
	}
}

// LookupClient queries the entity-lookup SOAP service for core data by DUNS.
type LookupClient struct {
	opts     LookupOptions
	endpoint string
	limiter  *rate.Limiter
}

func NewLookupClient(opts LookupOptions) (*LookupClient, error) {
	var missing []string
	if strings.TrimSpace(opts.WSDL) == "" {
		missing = append(missing, "upstream.wsdl")
	}
	if opts.Username == "" {
		missing = append(missing, "upstream.username")
	}
	if opts.Password == "" {
		missing = append(missing, "upstream.password")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: lookup client needs %s", samerrors.ErrConfigInvalid, strings.Join(missing, ", "))
	}
	opts.setDefaults()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return &LookupClient{opts: opts, endpoint: endpointFromWSDL(opts.WSDL), limiter: limiter}, nil
}

// endpointFromWSDL drops a trailing "?wsdl" so requests go to the service address.
func endpointFromWSDL(wsdl string) string {
	wsdl = strings.TrimSpace(wsdl)
	if i := strings.LastIndex(strings.ToLower(wsdl), "?wsdl"); i >= 0 && i == len(wsdl)-len("?wsdl") {
		return wsdl[:i]
	}
	return wsdl
}

// Lookup fetches the entities for duns in batches of BatchSize. An empty answer is not an error.
func (c *LookupClient) Lookup(ctx context.Context, duns []string) ([]entity.Entity, error) {
	var out []entity.Entity
	for start := 0; start < len(duns); start += c.opts.BatchSize {
		end := min(start+c.opts.BatchSize, len(duns))
		batch := duns[start:end]

		var got []entity.Entity
		err := c.opts.Retrier.Do(ctx, "lookup", func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			var err error
			got, err = c.call(ctx, batch)
			return err
		})
		if err != nil {
			return nil, err
		}
		c.opts.Logger.WithFields(logrus.Fields{
			"duns_count": len(batch),
			"found":      len(got),
		}).Debug("lookup batch done")
		out = append(out, got...)
	}
	return out, nil
}

func (c *LookupClient) call(ctx context.Context, duns []string) ([]entity.Entity, error) {
	payload, err := encodeGetEntities(c.opts.Username, c.opts.Password, duns)
	if err != nil {
		return nil, errors.Wrap(err, "encode lookup request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: lookup endpoint: %v", samerrors.ErrConfigInvalid, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"getEntities"`)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "lookup request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read lookup response")
	}
	if credentialsRejected(body) || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: lookup service answered status %d", samerrors.ErrUpstreamCredentialsInvalid, resp.StatusCode)
	}
	found, err := decodeEntities(body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("lookup service answered status %d", resp.StatusCode)
	}
	return found, nil
}

// credentialsRejected matches the literal -1 body, quoted or not.
func credentialsRejected(body []byte) bool {
	s := strings.TrimSpace(string(body))
	return s == "-1" || s == `"-1"`
}
