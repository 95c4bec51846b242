package recorder

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

// OpenSearchConfig configures the archive sink.
type OpenSearchConfig struct {
	URL           string
	Username      string
	Password      string
	Insecure      bool
	IndexPrefix   string
	FlushInterval time.Duration
}

// OpenSearchSink archives events into monthly indices
// (<prefix>-YYYY.MM) through a long-lived bulk indexer. Event IDs are used
// as document IDs so redelivery is idempotent.
type OpenSearchSink struct {
	indexer opensearchutil.BulkIndexer
	prefix  string
	logger  *logging.Logger
}

// NewOpenSearchClient builds a client the way the storage service does.
func NewOpenSearchClient(cfg OpenSearchConfig) (*opensearch.Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Insecure, //nolint:gosec // opt-in for local clusters
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}

func NewOpenSearchSink(client *opensearch.Client, cfg OpenSearchConfig, logger *logging.Logger) (*OpenSearchSink, error) {
	logger = logging.OrDefault(logger).Component("opensearch-sink")

	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = 5 * time.Second
	}
	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = "telhawk-activity"
	}

	indexer, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:        client,
		NumWorkers:    1,
		FlushInterval: flush,
		OnError: func(ctx context.Context, err error) {
			logger.WarnContext(ctx, "bulk indexer error", logging.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	return &OpenSearchSink{indexer: indexer, prefix: prefix, logger: logger}, nil
}

func (s *OpenSearchSink) Name() string { return "opensearch" }

// Deliver queues events; indexing happens asynchronously on flush.
func (s *OpenSearchSink) Deliver(ctx context.Context, events []SignedEvent) error {
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}

		err = s.indexer.Add(ctx, opensearchutil.BulkIndexerItem{
			Action:     "index",
			Index:      s.IndexFor(e.CreatedAt),
			DocumentID: e.ID,
			Body:       bytes.NewReader(data),
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					s.logger.WarnContext(ctx, "failed to archive activity event", "document_id", item.DocumentID, logging.Error(err))
					return
				}
				s.logger.WarnContext(ctx, "failed to archive activity event",
					"document_id", item.DocumentID, "type", res.Error.Type, "reason", res.Error.Reason)
			},
		})
		if err != nil {
			return fmt.Errorf("queue event %s: %w", e.ID, err)
		}
	}
	return nil
}

// IndexFor returns the monthly index name for t (UTC).
func (s *OpenSearchSink) IndexFor(t time.Time) string {
	return s.prefix + "-" + t.UTC().Format("2006.01")
}

// Stats reports indexer counters.
func (s *OpenSearchSink) Stats() opensearchutil.BulkIndexerStats {
	return s.indexer.Stats()
}

// Close flushes pending items.
func (s *OpenSearchSink) Close(ctx context.Context) error {
	return s.indexer.Close(ctx)
}
