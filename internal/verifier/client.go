// Package verifier calls the external verification providers, one endpoint per
// validation type.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker"
	"github.com/cuongbtq/contact-validation/internal/worker/domain"
)

const maxBodySize = 1 << 20

// Config holds verification provider settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the verification provider gateway
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a new verification provider client
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Validators returns one validator per supported validation type
func (c *Client) Validators() map[domain.ValidationType]worker.Validator {
	validators := make(map[domain.ValidationType]worker.Validator, len(domain.AllValidationTypes))
	for _, t := range domain.AllValidationTypes {
		validators[t] = c.Validator(t)
	}
	return validators
}

// Validator returns the validator for t
func (c *Client) Validator(t domain.ValidationType) worker.Validator {
	return worker.ValidatorFunc(func(ctx context.Context, contact *domain.Contact) (map[string]string, error) {
		return c.verify(ctx, t, requestFields(t, contact))
	})
}

type verifyResponse struct {
	Fields map[string]string `json:"fields"`
	Error  string            `json:"error"`
}

func (c *Client) verify(ctx context.Context, t domain.ValidationType, input map[string]string) (map[string]string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode %s verification: %w", t, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/verify/"+string(t), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s verification request: %w", t, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s verification request failed: %w", t, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("read %s verification response: %w", t, err))
	}

	var decoded verifyResponse
	_ = json.Unmarshal(body, &decoded)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, domain.NewRetryableError(fmt.Errorf("%s provider returned %d", t, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := decoded.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, domain.NewPermanentError(fmt.Errorf("%s provider returned %d: %s", t, resp.StatusCode, msg))
	}

	return decoded.Fields, nil
}

// requestFields selects the contact fields a provider needs for t
func requestFields(t domain.ValidationType, contact *domain.Contact) map[string]string {
	switch t {
	case domain.ValidationEmail:
		return map[string]string{"email": contact.Email}
	case domain.ValidationName:
		return map[string]string{"first_name": contact.FirstName, "last_name": contact.LastName}
	case domain.ValidationPhone:
		return map[string]string{"phone": contact.Phone, "country": contact.Country}
	case domain.ValidationAddress:
		return map[string]string{
			"street":      contact.Street,
			"city":        contact.City,
			"state":       contact.State,
			"postal_code": contact.PostalCode,
			"country":     contact.Country,
		}
	}
	return map[string]string{}
}
