package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrFetchFailed is returned when every configured strategy fails.
var ErrFetchFailed = errors.New("all fetch strategies failed")

// Client tries an ordered list of strategies until one yields usable markup.
// A strategy result that lacks the expected table marker is treated as a
// challenge page and the next strategy is tried; if no strategy produces the
// marker, the last successfully fetched body is still returned so the parser
// can report an empty table.
type Client struct {
	strategies []Strategy
	marker     []byte
	logger     *slog.Logger
}

// NewClient builds a client over the given strategies, in fallback order.
func NewClient(marker string, logger *slog.Logger, strategies ...Strategy) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		strategies: strategies,
		marker:     []byte(marker),
		logger:     logger,
	}
}

// Fetch returns page markup or ErrFetchFailed when no strategy succeeded.
func (c *Client) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if len(c.strategies) == 0 {
		return nil, fmt.Errorf("fetch %s: no strategies configured: %w", pageURL, ErrFetchFailed)
	}

	var lastErr error
	var suspect []byte
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		body, err := s.Fetch(ctx, pageURL)
		if err != nil {
			c.logger.Warn("fetch strategy failed", "strategy", s.Name(), "url", pageURL, "error", err)
			lastErr = err
			continue
		}
		if len(c.marker) > 0 && !bytes.Contains(body, c.marker) {
			c.logger.Warn("fetched markup lacks table marker, suspecting challenge page",
				"strategy", s.Name(), "url", pageURL, "bytes", len(body))
			suspect = body
			continue
		}
		c.logger.Debug("fetch succeeded", "strategy", s.Name(), "url", pageURL, "bytes", len(body))
		return body, nil
	}

	if suspect != nil {
		return suspect, nil
	}
	return nil, fmt.Errorf("fetch %s: %w: %w", pageURL, ErrFetchFailed, lastErr)
}
