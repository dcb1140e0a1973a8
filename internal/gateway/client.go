package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"lcrd-backend/internal/platform/apierr"
	"lcrd-backend/internal/platform/envutil"
	"lcrd-backend/internal/platform/logger"
)

// Client talks to the external inference service. The service is treated as
// untrusted and possibly slow; every call carries a bounded timeout and no
// retry is performed here (retry policy belongs to the caller).
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	log        *logger.Logger
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func New(baseLog *logger.Logger, opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	clientLog := baseLog.With("service", "PredictionGateway")
	return &Client{
		log:        clientLog,
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: hc,
	}, nil
}

func NewFromEnv(baseLog *logger.Logger) (*Client, error) {
	return New(baseLog, Options{
		BaseURL: envutil.String("MODEL_BASE_URL", "http://localhost:5000"),
		Timeout: envutil.Seconds("MODEL_TIMEOUT_SECONDS", 120*time.Second),
	})
}

func (c *Client) BaseURL() string { return c.baseURL }

// Predict sends the DICOM bundle as a multipart "file" field and validates
// the response shape before handing it back.
func (c *Client) Predict(ctx context.Context, archive []byte) (*PredictResponse, error) {
	if len(archive) == 0 {
		return nil, apierr.InvalidArgument(errors.New("empty archive"))
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "upload.zip")
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(archive); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api_predict", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierr.UpstreamUnavailable(fmt.Errorf("inference service unreachable: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.UpstreamUnavailable(fmt.Errorf("read inference response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierr.UpstreamRejected(parseUpstreamError(resp.StatusCode, raw))
	}

	var out PredictResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apierr.InvalidResponse(fmt.Errorf("decode inference response: %w", err))
	}
	if err := validatePredictResponse(&out); err != nil {
		return nil, apierr.InvalidResponse(err)
	}
	return &out, nil
}

func validatePredictResponse(resp *PredictResponse) error {
	if len(resp.Predictions) == 0 {
		return errors.New("inference response missing predictions")
	}
	for i, row := range resp.Predictions {
		if len(row) == 0 {
			return fmt.Errorf("inference response predictions row %d is empty", i)
		}
	}
	if len(resp.OverlayImages) == 0 {
		return errors.New("inference response missing overlay images")
	}
	for i, img := range resp.OverlayImages {
		if strings.TrimSpace(img.Filename) == "" {
			return fmt.Errorf("overlay image %d has no filename", i)
		}
		if strings.TrimSpace(img.DownloadLink) == "" {
			return fmt.Errorf("overlay image %d has no download link", i)
		}
	}
	return nil
}

// FetchArtifact downloads a result archive or overlay file referenced by the
// predict response. Links may be absolute or relative to the service base.
func (c *Client) FetchArtifact(ctx context.Context, url string) ([]byte, error) {
	target := strings.TrimSpace(url)
	if target == "" {
		return nil, apierr.InvalidArgument(errors.New("artifact url required"))
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierr.UpstreamUnavailable(fmt.Errorf("artifact download unreachable: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.UpstreamUnavailable(fmt.Errorf("read artifact body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierr.UpstreamRejected(parseUpstreamError(resp.StatusCode, raw))
	}
	if len(raw) == 0 {
		return nil, apierr.InvalidResponse(fmt.Errorf("artifact %s is empty", target))
	}
	return raw, nil
}
