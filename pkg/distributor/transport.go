package distributor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"meridian/pkg/types"
)

// NodeTransport pushes an asset's bytes to one delivery node. One upload
// failing must not affect uploads to other nodes.
type NodeTransport interface {
	Upload(ctx context.Context, node types.DeliveryNode, asset types.Asset) error
}

// HTTPTransport uploads via PUT to the node's ingest endpoint.
type HTTPTransport struct {
	Client *http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		Client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Upload(ctx context.Context, node types.DeliveryNode, asset types.Asset) error {
	f, err := os.Open(asset.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer f.Close()

	url := fmt.Sprintf("%s/assets/%s", NodeBaseURL(node), asset.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = asset.SizeBytes
	req.Header.Set("Content-Type", asset.ContentType)

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("upload to %s failed: %w", node.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload to %s rejected: %s", node.ID, resp.Status)
	}
	return nil
}

// NodeBaseURL normalizes a node endpoint into a base URL.
func NodeBaseURL(node types.DeliveryNode) string {
	endpoint := strings.TrimSuffix(node.Endpoint, "/")
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	return endpoint
}

// FakeTransport records uploads in memory and fails the configured nodes.
// It backs the scheduler tests and tool-less local runs.
type FakeTransport struct {
	mu        sync.Mutex
	FailNodes map[types.NodeID]bool
	Delay     time.Duration
	uploads   map[types.NodeID][]types.AssetID
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		FailNodes: make(map[types.NodeID]bool),
		uploads:   make(map[types.NodeID][]types.AssetID),
	}
}

func (t *FakeTransport) Upload(ctx context.Context, node types.DeliveryNode, asset types.Asset) error {
	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.FailNodes[node.ID] {
		return fmt.Errorf("simulated upload failure on %s", node.ID)
	}
	t.uploads[node.ID] = append(t.uploads[node.ID], asset.ID)
	return nil
}

// Uploads returns the asset ids uploaded to a node.
func (t *FakeTransport) Uploads(id types.NodeID) []types.AssetID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.AssetID(nil), t.uploads[id]...)
}
