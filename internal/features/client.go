package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"gridmatch/internal/coarsematch"
)

// Client talks to a remote feature-extractor service that turns an encoded
// image into a coarse feature grid.
type Client struct {
	Url       string
	parsedURL *url.URL
	token     string
}

// NewClient creates an extractor client. The token may be empty when the
// service does not require authentication.
func NewClient(rawURL, token string) (*Client, error) {
	apiURL := rawURL + "/api/v1"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid extractor URL: %w", err)
	}
	return &Client{Url: apiURL, parsedURL: parsed, token: token}, nil
}

// extractResponse is the extractor's JSON payload for one image.
type extractResponse struct {
	CoarseH  int       `json:"coarse_h"`
	CoarseW  int       `json:"coarse_w"`
	FullH    int       `json:"full_h"`
	FullW    int       `json:"full_w"`
	Channels int       `json:"channels"`
	Data     []float32 `json:"data"`
}

// Extract sends JPEG-encoded image data to the extractor and returns the
// validated feature grid. The scale correction compensates for any resizing
// done before encoding (see PrepareImage); pass 1 for unresized images.
func (c *Client) Extract(ctx context.Context, id string, imageData []byte, scale float32) (*ImageFeatures, error) {
	endpoint := c.parsedURL.JoinPath("features").String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var result extractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	f := &ImageFeatures{
		ID:       id,
		Full:     coarsematch.Size{H: result.FullH, W: result.FullW},
		Coarse:   coarsematch.Size{H: result.CoarseH, W: result.CoarseW},
		Channels: result.Channels,
		Data:     result.Data,
		Scale:    scale,
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("extractor returned inconsistent features: %w", err)
	}
	return f, nil
}

// Health checks that the extractor service is reachable.
func (c *Client) Health(ctx context.Context) error {
	endpoint := c.parsedURL.JoinPath("health").String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extractor unhealthy, status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	return nil
}

// readErrorBody reads the response body for error messages.
// Returns empty string if reading fails (we're already in an error path).
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(r)
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}
