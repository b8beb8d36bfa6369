package search

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"unicode"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"

	"kartka/internal/logger"
	"kartka/internal/retry"
)

// ErrElasticRejected is returned for a 4xx answer from Elasticsearch.
var ErrElasticRejected = errors.New("elasticsearch rejected the request")

// ElasticOptions addresses an Elasticsearch cluster.
type ElasticOptions struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string // index name is prefix + collection
	Limit       int
	Retry       retry.Policy
	Transport   http.RoundTripper
}

// ElasticIndex keeps one index per collection; each line is a document carrying its
// bucket and record identifier.
type ElasticIndex struct {
	es   *elasticsearch.Client
	opts ElasticOptions
	log  zerolog.Logger

	mu      sync.Mutex
	created map[string]bool
}

type lineDoc struct {
	Bucket string `json:"bucket"`
	Record string `json:"record"`
	Line   string `json:"line"`
}

const indexMapping = `{
  "mappings": {
    "properties": {
      "bucket": {"type": "keyword"},
      "record": {"type": "keyword"},
      "line":   {"type": "text"}
    }
  }
}`

// NewElasticIndex creates a client for opts.Addresses.
func NewElasticIndex(opts ElasticOptions) (*ElasticIndex, error) {
	const op = "NewElasticIndex"

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
		Transport: opts.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create client: %w", op, err)
	}

	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}

	return &ElasticIndex{
		es:      es,
		opts:    opts,
		log:     logger.WithComponent("elasticsearch"),
		created: make(map[string]bool),
	}, nil
}

func (e *ElasticIndex) indexName(collection string) string {
	return strings.ToLower(e.opts.IndexPrefix + collection)
}

// Push indexes one line. The document id is derived from its content, so pushing the
// same line twice keeps a single copy.
func (e *ElasticIndex) Push(ctx context.Context, collection, bucket, id, line string) error {
	const op = "elastic.Push"

	index := e.indexName(collection)
	if err := e.ensureIndex(ctx, index); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	body, err := json.Marshal(lineDoc{Bucket: bucket, Record: id, Line: line})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	sum := sha1.Sum([]byte(bucket + "\x00" + id + "\x00" + line))

	err = e.do(ctx, func(ctx context.Context) (*esapi.Response, error) {
		return e.es.Index(index, bytes.NewReader(body),
			e.es.Index.WithDocumentID(hex.EncodeToString(sum[:])),
			e.es.Index.WithContext(ctx),
		)
	}, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Query returns the distinct record identifiers with a line matching text.
func (e *ElasticIndex) Query(ctx context.Context, collection, bucket, text string) ([]string, error) {
	const op = "elastic.Query"

	query := map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"must":   map[string]any{"match": map[string]any{"line": map[string]any{"query": text, "operator": "and"}}},
				"filter": map[string]any{"term": map[string]any{"bucket": bucket}},
			},
		},
		"aggs": map[string]any{
			"records": map[string]any{
				"terms": map[string]any{"field": "record", "size": e.opts.Limit},
			},
		},
	}

	var result struct {
		Aggregations struct {
			Records struct {
				Buckets []struct {
					Key string `json:"key"`
				} `json:"buckets"`
			} `json:"records"`
		} `json:"aggregations"`
	}
	if err := e.search(ctx, collection, query, &result); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ids := make([]string, 0, len(result.Aggregations.Records.Buckets))
	for _, b := range result.Aggregations.Records.Buckets {
		ids = append(ids, b.Key)
	}
	return ids, nil
}

// Suggest returns indexed words starting with prefix.
func (e *ElasticIndex) Suggest(ctx context.Context, collection, bucket, prefix string) ([]string, error) {
	const op = "elastic.Suggest"

	query := map[string]any{
		"size":    e.opts.Limit,
		"_source": []string{"line"},
		"query": map[string]any{
			"bool": map[string]any{
				"must":   map[string]any{"match_phrase_prefix": map[string]any{"line": prefix}},
				"filter": map[string]any{"term": map[string]any{"bucket": bucket}},
			},
		},
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source lineDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := e.search(ctx, collection, query, &result); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	prefix = strings.ToLower(prefix)
	seen := make(map[string]bool)
	var words []string
	for _, hit := range result.Hits.Hits {
		for _, w := range strings.FieldsFunc(strings.ToLower(hit.Source.Line), isWordSeparator) {
			if strings.HasPrefix(w, prefix) && !seen[w] {
				seen[w] = true
				words = append(words, w)
			}
			if len(words) == e.opts.Limit {
				return words, nil
			}
		}
	}
	return words, nil
}

// Ping checks the cluster.
func (e *ElasticIndex) Ping(ctx context.Context) error {
	const op = "elastic.Ping"

	err := e.do(ctx, func(ctx context.Context) (*esapi.Response, error) {
		return e.es.Ping(e.es.Ping.WithContext(ctx))
	}, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close is a no-op; the HTTP transport holds no channel state.
func (e *ElasticIndex) Close() error {
	return nil
}

func (e *ElasticIndex) search(ctx context.Context, collection string, query map[string]any, out any) error {
	body, err := json.Marshal(query)
	if err != nil {
		return err
	}
	index := e.indexName(collection)
	return e.do(ctx, func(ctx context.Context) (*esapi.Response, error) {
		return e.es.Search(
			e.es.Search.WithContext(ctx),
			e.es.Search.WithIndex(index),
			e.es.Search.WithBody(bytes.NewReader(body)),
			e.es.Search.WithIgnoreUnavailable(true),
		)
	}, out)
}

// ensureIndex creates index with the line mapping the first time it is used.
func (e *ElasticIndex) ensureIndex(ctx context.Context, index string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.created[index] {
		return nil
	}

	res, err := e.es.Indices.Exists([]string{index}, e.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return err
	}
	res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		err := e.do(ctx, func(ctx context.Context) (*esapi.Response, error) {
			return e.es.Indices.Create(index,
				e.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
				e.es.Indices.Create.WithContext(ctx),
			)
		}, nil)
		// Another writer may have created it first.
		if err != nil && !strings.Contains(err.Error(), "resource_already_exists_exception") {
			return err
		}
		e.log.Info().Str("index", index).Msg("Created search index")
	}

	e.created[index] = true
	return nil
}

// do runs call with retries on transport failures and 429/5xx answers, decoding a
// successful body into out when it is set.
func (e *ElasticIndex) do(ctx context.Context, call func(ctx context.Context) (*esapi.Response, error), out any) error {
	return retry.Do(ctx, e.opts.Retry, func(ctx context.Context) error {
		res, err := call(ctx)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		if res.IsError() {
			msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
			err := fmt.Errorf("%s: %s", res.Status(), strings.TrimSpace(string(msg)))
			if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
				return err
			}
			return retry.Permanent(fmt.Errorf("%w: %v", ErrElasticRejected, err))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}

func isWordSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
