// Package search stores transcript lines in a full-text index and queries it.
//
// Every line is pushed as its own entry under the record identifier of its document, so
// a query returns record identifiers and never transcript text.
package search

import (
	"fmt"
	"time"

	"kartka/internal/config"
	"kartka/pkg/services"
)

// New creates the index selected by cfg.Search.Backend.
func New(cfg *config.Config) (services.SearchIndex, error) {
	const op = "search.New"

	s := cfg.Search
	switch s.Backend {
	case "", "sonic":
		return NewSonicIndex(SonicOptions{
			Host:     s.Host,
			Port:     s.Port,
			Password: s.Password,
			Limit:    s.QueryLimit,
			Timeout:  30 * time.Second,
			Retry:    cfg.RetryPolicy(),
		}), nil
	case "elasticsearch":
		return NewElasticIndex(ElasticOptions{
			Addresses:   s.Addresses,
			Username:    s.Username,
			Password:    s.Password,
			IndexPrefix: s.IndexPrefix,
			Limit:       s.QueryLimit,
			Retry:       cfg.RetryPolicy(),
		})
	default:
		return nil, fmt.Errorf("%s: unknown backend %q", op, s.Backend)
	}
}
