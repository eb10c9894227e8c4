package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/ragcore/internal/telemetry"
)

const (
	chunkScheme = "chunk://"

	// QueryMetricsURI is the URI of the query pattern statistics resource.
	QueryMetricsURI = "ragcore://query_metrics"
)

// registerResources registers the chunk template and the query_metrics resource.
func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: chunkScheme + "{id}",
		Name:        "chunk",
		Description: "Full text and metadata of one indexed chunk, by the chunk_id a search returned",
		MIMEType:    "application/json",
	}, s.handleChunkResource)

	s.mcp.AddResource(&mcp.Resource{
		URI:         QueryMetricsURI,
		Name:        "query_metrics",
		Description: "Query pattern statistics for this process: query types, top terms, zero-result queries and latency",
		MIMEType:    "application/json",
	}, s.handleQueryMetricsResource)
}

// extractChunkID returns the ID of a chunk:// URI, or "" when uri is not one.
func extractChunkID(uri string) string {
	id, ok := strings.CutPrefix(uri, chunkScheme)
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func (s *Server) handleChunkResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	id := extractChunkID(req.Params.URI)
	if id == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	p, err := s.registry.Get(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	c, ok, err := p.Store.Chunk(ctx, id)
	if err != nil {
		return nil, MapError(err)
	}
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	content, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}

func (s *Server) handleQueryMetricsResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	// Before the first query the pipeline may not exist yet.
	snapshot := &telemetry.QueryMetricsSnapshot{}
	if s.registry.Initialized() {
		p, err := s.registry.Get(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		snapshot = p.QueryMetrics.Snapshot()
	}

	content, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      QueryMetricsURI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
