package preflight

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// CheckEmbedder checks that the configured embedding provider is usable.
// The check is advisory: with the embedder down, ingestion fails but
// lexical-only search keeps working.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	if c.provider == "" || c.provider == "static" {
		result.Status = StatusPass
		result.Message = "static embedder (no runtime required)"
		return result
	}

	host := strings.TrimSuffix(c.embedderHost, "/")
	if host == "" {
		result.Status = StatusWarn
		result.Message = "no embedder host configured"
		return result
	}

	if err := c.probe(ctx, host+"/api/tags"); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unreachable: %v", host, err)
		result.Details = "Start ollama, or set DOCPIPE_EMBEDDER=static for offline use"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s reachable", host)
	return result
}

// CheckRerankService checks that the rerank endpoint answers its health
// probe. Reranking is best effort, so a failure is only a warning.
func (c *Checker) CheckRerankService(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "rerank_service",
		Required: false,
	}

	endpoint := strings.TrimSuffix(c.rerankEndpoint, "/")
	if err := c.probe(ctx, endpoint+"/health"); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unreachable: %v", endpoint, err)
		result.Details = "Queries fall back to fused order without reranking"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s reachable", endpoint)
	return result
}

func (c *Checker) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
