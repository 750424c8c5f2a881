package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/olivere/elastic/v7"

	"github.com/alena-kono/ugc-service-2/pkg/config"
	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
)

// Elastic implements Index on an Elasticsearch 7 cluster.
type Elastic struct {
	client *elastic.Client
	logger *slog.Logger
}

// NewElastic connects to the configured nodes. Sniffing and the background
// health check stay off unless requested, since the cluster usually sits
// behind a single address in containers.
func NewElastic(cfg config.ElasticConfig) (*Elastic, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(cfg.Addresses...),
		elastic.SetSniff(cfg.Sniff),
		elastic.SetHealthcheck(false),
		elastic.SetHttpClient(&http.Client{Timeout: cfg.RequestTimeout}),
	}
	if cfg.Username != "" {
		opts = append(opts, elastic.SetBasicAuth(cfg.Username, cfg.Password))
	}
	client, err := elastic.NewClient(opts...)
	if err != nil {
		return nil, classify("connecting to elasticsearch", err)
	}
	return &Elastic{
		client: client,
		logger: slog.Default().With("component", "elastic"),
	}, nil
}

func (e *Elastic) EnsureIndex(ctx context.Context, name string, mapping []byte) error {
	res, err := e.client.CreateIndex(name).BodyString(string(mapping)).Do(ctx)
	if err != nil {
		var esErr *elastic.Error
		if errors.As(err, &esErr) && esErr.Details != nil && esErr.Details.Type == "resource_already_exists_exception" {
			e.logger.Debug("index already exists", "index", name)
			return nil
		}
		return classify("creating index "+name, err)
	}
	if !res.Acknowledged {
		e.logger.Warn("index creation not acknowledged", "index", name)
	}
	e.logger.Info("index created", "index", name)
	return nil
}

func (e *Elastic) Bulk(ctx context.Context, name string, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}
	bulk := e.client.Bulk().Index(name)
	for _, a := range actions {
		bulk.Add(elastic.NewBulkIndexRequest().Id(a.ID).Doc(a.Doc))
	}
	res, err := bulk.Do(ctx)
	if err != nil {
		return classify("bulk "+name, err)
	}
	if !res.Errors {
		return nil
	}
	return bulkFailure(name, len(actions), res.Failed())
}

// bulkFailure reports rejected items. Items refused for load reasons are
// retried as a whole; anything else is a document the index will not accept.
func bulkFailure(name string, total int, failed []*elastic.BulkResponseItem) error {
	transient := false
	reasons := make([]string, 0, 3)
	for _, item := range failed {
		if item.Status == http.StatusTooManyRequests || item.Status >= http.StatusInternalServerError {
			transient = true
		}
		if item.Error != nil && len(reasons) < cap(reasons) {
			reasons = append(reasons, fmt.Sprintf("%s: %s", item.Id, item.Error.Reason))
		}
	}
	err := apperrors.Newf(apperrors.ErrIndexRejected, "bulk "+name, "%d of %d failed: %s", len(failed), total, strings.Join(reasons, "; "))
	if transient {
		return apperrors.Unavailable("bulk "+name, err)
	}
	return err
}

// Ping reports whether the cluster answers and is not red.
func (e *Elastic) Ping(ctx context.Context) error {
	res, err := e.client.ClusterHealth().Do(ctx)
	if err != nil {
		return classify("cluster health", err)
	}
	if res.Status == "red" {
		return fmt.Errorf("cluster %s is red", res.ClusterName)
	}
	return nil
}

// Refresh makes written documents visible to search.
func (e *Elastic) Refresh(ctx context.Context, names ...string) error {
	_, err := e.client.Refresh(names...).Do(ctx)
	return classify("refresh", err)
}

func (e *Elastic) Stop() {
	e.client.Stop()
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if elastic.IsConnErr(err) || elastic.IsTimeout(err) {
		return apperrors.Unavailable(op, err)
	}
	var esErr *elastic.Error
	if errors.As(err, &esErr) {
		if esErr.Status == http.StatusTooManyRequests || esErr.Status >= http.StatusInternalServerError {
			return apperrors.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if apperrors.IsTransient(err) {
		return apperrors.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
