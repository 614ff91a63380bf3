package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	pipeerrors "github.com/docpipe/docpipe/internal/errors"
)

// Rerank oracle defaults.
const (
	DefaultOracleEndpoint  = "http://localhost:9659"
	DefaultOracleModel     = "reranker-small"
	DefaultOracleTimeout   = 30 * time.Second
	DefaultOracleBatchSize = 32
)

// RerankOracle scores query-document pairs with a cross-encoder.
// Scores come back in input order, one per text.
type RerankOracle interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)

	// MaxBatchSize is the largest texts slice a single Score call
	// accepts.
	MaxBatchSize() int

	// Available checks whether the oracle can serve requests.
	Available(ctx context.Context) bool

	Close() error
}

// HTTPOracleConfig configures the HTTP rerank oracle.
type HTTPOracleConfig struct {
	Endpoint  string
	Model     string
	Timeout   time.Duration
	BatchSize int

	// SkipHealthCheck skips the construction-time probe (tests).
	SkipHealthCheck bool
}

// DefaultHTTPOracleConfig returns oracle defaults.
func DefaultHTTPOracleConfig() HTTPOracleConfig {
	return HTTPOracleConfig{
		Endpoint:  DefaultOracleEndpoint,
		Model:     DefaultOracleModel,
		Timeout:   DefaultOracleTimeout,
		BatchSize: DefaultOracleBatchSize,
	}
}

// HTTPOracle scores pairs via a cross-encoder server's /rerank
// endpoint.
type HTTPOracle struct {
	client *http.Client
	config HTTPOracleConfig

	mu     sync.RWMutex
	closed bool
}

var _ RerankOracle = (*HTTPOracle)(nil)

// NewHTTPOracle creates an HTTP rerank oracle and probes its health
// unless the config skips it.
func NewHTTPOracle(ctx context.Context, cfg HTTPOracleConfig) (*HTTPOracle, error) {
	d := DefaultHTTPOracleConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = d.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}

	o := &HTTPOracle{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := o.healthCheck(checkCtx); err != nil {
			return nil, pipeerrors.New(pipeerrors.ErrCodeRerankUnavailable,
				"rerank oracle health check failed", err)
		}
	}
	return o, nil
}

func (o *HTTPOracle) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.config.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("oracle unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Score sends one batch to the oracle and maps the scores back to
// input order.
func (o *HTTPOracle) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return nil, pipeerrors.New(pipeerrors.ErrCodeRerankUnavailable, "oracle is closed", nil)
	}
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > o.config.BatchSize {
		return nil, pipeerrors.ValidationError(
			fmt.Sprintf("batch size %d exceeds oracle maximum %d", len(texts), o.config.BatchSize), nil)
	}

	payload, err := json.Marshal(rerankRequest{Query: query, Documents: texts, Model: o.config.Model})
	if err != nil {
		return nil, pipeerrors.InternalError("marshaling rerank request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, o.config.Endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, pipeerrors.InternalError("creating rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, pipeerrors.New(pipeerrors.ErrCodeOracleTimeout, "rerank request timed out", err)
		}
		return nil, pipeerrors.New(pipeerrors.ErrCodeRerankUnavailable, "rerank request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, pipeerrors.New(pipeerrors.ErrCodeRerankUnavailable,
			fmt.Sprintf("rerank failed (status %d): %s", resp.StatusCode, string(body)), nil)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeRerankUnavailable, "decoding rerank response", err)
	}

	scores := make([]float64, len(texts))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, pipeerrors.New(pipeerrors.ErrCodeRerankUnavailable,
				fmt.Sprintf("oracle returned out-of-range index %d", r.Index), nil)
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}

// MaxBatchSize returns the configured batch limit.
func (o *HTTPOracle) MaxBatchSize() int {
	return o.config.BatchSize
}

// Available probes the oracle's health endpoint.
func (o *HTTPOracle) Available(ctx context.Context) bool {
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return o.healthCheck(checkCtx) == nil
}

// Close releases idle connections.
func (o *HTTPOracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if transport, ok := o.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
