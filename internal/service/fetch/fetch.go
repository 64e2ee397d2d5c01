// Package fetch retrieves a single remote post through the peer fetch
// endpoints. Both the modern and the legacy URL must answer with a
// verifiable magic envelope; there is no unauthenticated fallback.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"social_fed/internal/model"
	"social_fed/internal/protocol"
	"social_fed/internal/protocol/magicenv"
	"social_fed/internal/protocol/normalize"
)

type (
	Client struct {
		client   *http.Client
		resolver magicenv.KeyResolver
	}
)

func NewClient(client *http.Client, resolver magicenv.KeyResolver) *Client {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		client:   client,
		resolver: resolver,
	}
}

// Post fetches and verifies one post by GUID from a server, trying the
// modern endpoint first and the legacy one second.
func (c *Client) Post(ctx context.Context, server, guid string) (*model.Message, error) {
	server = strings.TrimRight(server, "/")
	endpoints := []string{
		fmt.Sprintf("%s/fetch/post/%s", server, url.PathEscape(guid)),
		fmt.Sprintf("%s/p/%s.xml", server, url.PathEscape(guid)),
	}

	var lastErr error
	for _, endpoint := range endpoints {
		msg, err := c.fetchOne(ctx, endpoint)
		if err == nil {
			return msg, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) fetchOne(ctx context.Context, endpoint string) (*model.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrTransportFailure, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", protocol.ErrTransportFailure, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s answered %d", protocol.ErrTransportFailure, endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrTransportFailure, err)
	}

	decoded, err := magicenv.Verify(ctx, body, c.resolver)
	if err != nil {
		return nil, err
	}
	return normalize.Normalize(ctx, decoded, c.resolver)
}
