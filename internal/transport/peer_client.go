package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/crdtbase/kvsync/internal/syncstate"
)

// HTTPPeerClient implements PeerClient by POSTing a node's full state to
// a peer's /merge endpoint, the same wire shape handleMerge accepts.
type HTTPPeerClient struct {
	client *http.Client
}

// NewHTTPPeerClient builds a peer client with a bounded per-request
// timeout, matching the teacher's habit of never leaving outbound calls
// unbounded.
func NewHTTPPeerClient(timeout time.Duration) *HTTPPeerClient {
	return &HTTPPeerClient{client: &http.Client{Timeout: timeout}}
}

func (c *HTTPPeerClient) PushState(ctx context.Context, peerURL string, state *syncstate.State) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("transport: marshal state for peer push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURL+"/merge", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build peer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: push state to %s: %w", peerURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: peer %s rejected state with status %d", peerURL, resp.StatusCode)
	}
	return nil
}
