package reload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/conneroisu/devloop/internal/errors"
	"github.com/conneroisu/devloop/internal/types"
)

// HTTPSignaler triggers broadcasts through the reload listener's /changed
// endpoint, the same way an external tool would.
type HTTPSignaler struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSignaler creates a signaler for a listener at baseURL, for example
// http://127.0.0.1:35729.
func NewHTTPSignaler(baseURL string) *HTTPSignaler {
	return &HTTPSignaler{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// Signal requests /changed?files=<logical file of ev>. The request is bound
// by ctx only.
func (s *HTTPSignaler) Signal(ctx context.Context, ev types.ChangeEvent) error {
	target := s.baseURL + "/changed?files=" + url.QueryEscape(ev.File())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.NewBroadcastError("loopback", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.NewBroadcastError("loopback", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.NewBroadcastError("loopback", fmt.Errorf("unexpected status %s", resp.Status))
	}
	return nil
}
