package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubStrategy struct {
	name  string
	body  []byte
	err   error
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	s.calls++
	return s.body, s.err
}

const markerPage = `<div id="veriYenile"><table></table></div>`
const challengePage = `<html><body>checking your browser</body></html>`

func TestClientFirstStrategyWithMarker(t *testing.T) {
	first := &stubStrategy{name: "http", body: []byte(markerPage)}
	second := &stubStrategy{name: "chromedp", body: []byte(markerPage)}
	client := NewClient("veriYenile", discardLogger(), first, second)

	body, err := client.Fetch(context.Background(), "https://vendor.example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte(markerPage), body)
	assert.Equal(t, 1, first.calls)
	// Later strategies are never consulted once the marker is found.
	assert.Zero(t, second.calls)
}

func TestClientFallsThroughChallengePage(t *testing.T) {
	first := &stubStrategy{name: "http", body: []byte(challengePage)}
	second := &stubStrategy{name: "chromedp", body: []byte(markerPage)}
	client := NewClient("veriYenile", discardLogger(), first, second)

	body, err := client.Fetch(context.Background(), "https://vendor.example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte(markerPage), body)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestClientFallsThroughStrategyError(t *testing.T) {
	first := &stubStrategy{name: "http", err: errors.New("connection refused")}
	second := &stubStrategy{name: "chromedp", body: []byte(markerPage)}
	client := NewClient("veriYenile", discardLogger(), first, second)

	body, err := client.Fetch(context.Background(), "https://vendor.example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte(markerPage), body)
}

func TestClientAllMarkerlessReturnsLastBody(t *testing.T) {
	first := &stubStrategy{name: "http", body: []byte("challenge one")}
	second := &stubStrategy{name: "chromedp", body: []byte("challenge two")}
	client := NewClient("veriYenile", discardLogger(), first, second)

	// When no strategy produces the marker the newest body is still returned,
	// so the parser can observe the missing table and yield an empty result.
	body, err := client.Fetch(context.Background(), "https://vendor.example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte("challenge two"), body)
}

func TestClientAllStrategiesFail(t *testing.T) {
	firstErr := errors.New("connection refused")
	lastErr := errors.New("render timeout")
	first := &stubStrategy{name: "http", err: firstErr}
	second := &stubStrategy{name: "chromedp", err: lastErr}
	client := NewClient("veriYenile", discardLogger(), first, second)

	_, err := client.Fetch(context.Background(), "https://vendor.example.com")
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, lastErr)
}

func TestClientNoStrategies(t *testing.T) {
	client := NewClient("veriYenile", discardLogger())
	_, err := client.Fetch(context.Background(), "https://vendor.example.com")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestClientEmptyMarkerSkipsDetection(t *testing.T) {
	first := &stubStrategy{name: "http", body: []byte(challengePage)}
	second := &stubStrategy{name: "chromedp", body: []byte(markerPage)}
	client := NewClient("", discardLogger(), first, second)

	body, err := client.Fetch(context.Background(), "https://vendor.example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte(challengePage), body)
	assert.Zero(t, second.calls)
}

func TestClientCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	first := &stubStrategy{name: "http", body: []byte(markerPage)}
	client := NewClient("veriYenile", discardLogger(), first)

	_, err := client.Fetch(ctx, "https://vendor.example.com")
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, first.calls)
}
