package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sitesmith/internal/logging"
	"sitesmith/internal/metrics"
)

const imageCallTimeout = 120 * time.Second

// ImageClient generates images through the router's image endpoint.
// Every failure is absorbed: a brief that cannot be rendered is simply
// dropped from the result, the pipeline keeps whatever succeeded.
type ImageClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewImageClient creates an image-generation client for the given model.
func NewImageClient(apiKey, model string, opts ...ImageOption) *ImageClient {
	c := &ImageClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: imageCallTimeout,
		},
		// Image backends rate-limit aggressively; stay well under.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ImageOption customizes an ImageClient.
type ImageOption func(*ImageClient)

// WithImageBaseURL overrides the endpoint (tests).
func WithImageBaseURL(u string) ImageOption { return func(c *ImageClient) { c.baseURL = u } }

// WithImageHTTPClient overrides the underlying HTTP client.
func WithImageHTTPClient(h *http.Client) ImageOption { return func(c *ImageClient) { c.httpClient = h } }

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json,omitempty"`
		URL     string `json:"url,omitempty"`
	} `json:"data"`
}

// Generate requests count images for the prompt. The size hint is parsed
// permissively: anything that is not WxH with positive integers is omitted
// from the request rather than rejected. Failures return whatever subset
// succeeded, possibly nothing.
func (c *ImageClient) Generate(ctx context.Context, prompt string, count int, size string) []ImageResult {
	if count <= 0 {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}

	req := imageRequest{
		Model:  c.model,
		Prompt: prompt,
		N:      count,
		Size:   normalizeSize(size),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logging.L().Warn("image generation request failed", zap.Error(err))
		metrics.Get().ImagesDroppedTotal.Inc()
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		logging.L().Warn("image generation rejected",
			zap.Int("status", resp.StatusCode))
		metrics.Get().ImagesDroppedTotal.Inc()
		return nil
	}

	var parsed imageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.Get().ImagesDroppedTotal.Inc()
		return nil
	}

	results := make([]ImageResult, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		switch {
		case d.B64JSON != "":
			results = append(results, ImageResult{B64: d.B64JSON})
		case d.URL != "":
			results = append(results, ImageResult{URL: d.URL})
		}
	}
	metrics.Get().ImagesGeneratedTotal.Add(float64(len(results)))
	return results
}

// normalizeSize validates a "WxH" hint. Invalid input yields "" so the
// request simply omits width/height.
func normalizeSize(size string) string {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(size)), "x", 2)
	if len(parts) != 2 {
		return ""
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return ""
	}
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}
