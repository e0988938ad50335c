// Package crm is the HTTP client for the CRM that owns contact records.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker"
	"github.com/cuongbtq/contact-validation/internal/worker/domain"
)

// maxBodySize caps how much of a response body is read
const maxBodySize = 1 << 20

// Error categories the CRM uses for property/schema rejections
var mismatchCategories = map[string]bool{
	"PROPERTY_DOESNT_EXIST": true,
	"INVALID_PROPERTY":      true,
	"VALIDATION_ERROR":      true,
}

// Config holds CRM connection settings
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Client implements the pipeline's CRM collaborator over HTTP
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new CRM client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "crm")),
	}
}

type contactResponse struct {
	ID         string         `json:"id"`
	Properties domain.Contact `json:"properties"`
}

type submitRequest struct {
	Properties map[string]string `json:"properties"`
}

type errorResponse struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

type submitResponse struct {
	Warning string `json:"warning"`
}

// FetchContext loads the contact fields of subjectID
func (c *Client) FetchContext(ctx context.Context, subjectID string) (*domain.Contact, error) {
	body, err := c.do(ctx, http.MethodGet, c.contactURL(subjectID), nil)
	if err != nil {
		return nil, err
	}

	var resp contactResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewPermanentError(fmt.Errorf("decode crm contact: %w", err))
	}
	return &resp.Properties, nil
}

// Submit writes validated properties back onto subjectID
func (c *Client) Submit(ctx context.Context, subjectID string, fields map[string]string) (*worker.SubmitResult, error) {
	payload, err := json.Marshal(submitRequest{Properties: fields})
	if err != nil {
		return nil, fmt.Errorf("encode crm submission: %w", err)
	}

	body, err := c.do(ctx, http.MethodPatch, c.contactURL(subjectID), payload)
	if err != nil {
		return nil, err
	}

	result := &worker.SubmitResult{}
	if json.Valid(body) && len(bytes.TrimSpace(body)) > 0 {
		result.Response = json.RawMessage(body)
		var resp submitResponse
		if json.Unmarshal(body, &resp) == nil {
			result.Warning = resp.Warning
		}
	}
	return result, nil
}

func (c *Client) contactURL(subjectID string) string {
	return c.baseURL + "/contacts/" + url.PathEscape(subjectID)
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create crm request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("read crm response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	c.logger.Debug("CRM request rejected",
		slog.String("method", method),
		slog.Int("status", resp.StatusCode),
	)
	return nil, statusError(resp.StatusCode, body)
}

// statusError maps a non-2xx CRM response onto the pipeline's error taxonomy
func statusError(code int, body []byte) error {
	var detail errorResponse
	_ = json.Unmarshal(body, &detail)

	msg := detail.Message
	if msg == "" {
		msg = http.StatusText(code)
	}
	base := fmt.Errorf("crm returned %d: %s", code, msg)

	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrSubjectNotFound, base)
	case code == http.StatusBadRequest && mismatchCategories[detail.Category]:
		return fmt.Errorf("%w: %w", domain.ErrFieldMismatch, base)
	case code == http.StatusTooManyRequests, code >= 500:
		return domain.NewRetryableError(base)
	default:
		return domain.NewPermanentError(base)
	}
}
