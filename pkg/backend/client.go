// Package backend is the REST client for the AgriLink consultation API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shonalidesh/agrilink/pkg/consultation"
	apperrors "github.com/shonalidesh/agrilink/pkg/errors"
)

const (
	defaultTimeout = 30 * time.Second
)

// TokenSource supplies bearer tokens for API calls. Refresh is invoked once
// when a request comes back 401; the request is then retried with the fresh
// token.
type TokenSource interface {
	// Token returns the current access token
	Token() (string, error)

	// Refresh obtains a new access token
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed, non-refreshable token.
type StaticToken string

// Token returns the fixed token.
func (s StaticToken) Token() (string, error) { return string(s), nil }

// Refresh fails: a static token cannot be renewed.
func (s StaticToken) Refresh(ctx context.Context) (string, error) {
	return "", apperrors.New(apperrors.ErrCodeAuthExpired, "access token expired and cannot be refreshed")
}

// DefaultTransport returns an http.Transport with tuned connection pool
// settings.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Client calls the consultation API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// Options configures a Client.
type Options struct {
	// Timeout bounds each request; zero means the default.
	Timeout time.Duration

	// HTTPClient overrides the default client when set.
	HTTPClient *http.Client
}

// NewClient creates an API client.
func NewClient(baseURL string, tokens TokenSource, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: DefaultTransport(),
		}
	}

	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// do issues an authenticated request. On a 401 response it refreshes the
// token once and replays the request.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	resp, err := c.doOnce(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()

		token, err = c.tokens.Refresh(ctx)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeAuthExpired, "session expired").
				WithUserMessage("Your session has expired. Please log in again.")
		}

		resp, err = c.doOnce(ctx, method, path, body, token)
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "build request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFetchFailed, fmt.Sprintf("%s %s", method, path)).
			WithRetryable(true)
	}
	return resp, nil
}

// decodeResponse reads the body and checks the status code. A non-2xx
// response becomes an API_RESPONSE error carrying the status and body
// excerpt.
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeFetchFailed, "read response").WithRetryable(true)
	}

	if resp.StatusCode == http.StatusNotFound {
		return apperrors.New(apperrors.ErrCodeNotFound, "resource not found").
			WithUserMessage("This request no longer exists.")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := string(data)
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		return apperrors.New(apperrors.ErrCodeAPIResponse,
			fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithContext("status", resp.StatusCode).
			WithContext("body", excerpt)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeAPIResponse, "decode response body")
	}
	return nil
}

// CreateRequest submits a new consultation request on behalf of a farmer.
type CreateRequest struct {
	FarmerID    string   `json:"farmer_id"`
	FarmerName  string   `json:"farmer_name,omitempty"`
	FieldID     string   `json:"field_id,omitempty"`
	Category    string   `json:"issue_type"`
	Description string   `json:"description"`
	Urgency     string   `json:"urgency,omitempty"`
	PhotoURLs   []string `json:"photo_urls,omitempty"`
}

// CreateConsultation creates a consultation request. The created entity is
// decoded through the same path as snapshot items.
func (c *Client) CreateConsultation(ctx context.Context, in CreateRequest) (consultation.Request, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return consultation.Request{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "encode create payload")
	}

	resp, err := c.do(ctx, http.MethodPost, "/consultations/", body)
	if err != nil {
		return consultation.Request{}, err
	}

	var raw json.RawMessage
	if err := decodeResponse(resp, &raw); err != nil {
		return consultation.Request{}, err
	}
	return consultation.Decode(raw)
}

// ListAssignments fetches the consultation requests visible to an expert:
// unassigned NEW requests plus everything assigned to them.
func (c *Client) ListAssignments(ctx context.Context, expertID string) ([]consultation.Request, int, error) {
	path := "/consultations/assignments?expert_id=" + url.QueryEscape(expertID)
	return c.list(ctx, path)
}

// ListOwnRequests fetches the consultation requests raised by a farmer.
func (c *Client) ListOwnRequests(ctx context.Context, farmerID string) ([]consultation.Request, int, error) {
	path := "/consultations/?farmer_id=" + url.QueryEscape(farmerID)
	return c.list(ctx, path)
}

// ListAll fetches every consultation request. Operator use only.
func (c *Client) ListAll(ctx context.Context) ([]consultation.Request, int, error) {
	return c.list(ctx, "/consultations/")
}

func (c *Client) list(ctx context.Context, path string) ([]consultation.Request, int, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}

	var items []json.RawMessage
	if err := decodeResponse(resp, &items); err != nil {
		return nil, 0, err
	}

	reqs, skipped := consultation.DecodeList(items)
	return reqs, skipped, nil
}

// Accept claims a NEW request for the given expert.
func (c *Client) Accept(ctx context.Context, requestID, expertID string) error {
	return c.mutate(ctx, requestID, "accept", map[string]string{"expert_id": expertID})
}

// Reject declines a request.
func (c *Client) Reject(ctx context.Context, requestID, expertID string) error {
	return c.mutate(ctx, requestID, "reject", map[string]string{"expert_id": expertID})
}

// Complete marks an in-progress request finished.
func (c *Client) Complete(ctx context.Context, requestID, expertID string) error {
	return c.mutate(ctx, requestID, "complete", map[string]string{"expert_id": expertID})
}

func (c *Client) mutate(ctx context.Context, requestID, verb string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "encode mutation payload")
	}

	path := fmt.Sprintf("/consultations/%s/%s", url.PathEscape(requestID), verb)
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeFetchFailed) {
			return apperrors.Wrap(err, apperrors.ErrCodeMutationFailed, verb+" request").
				WithRetryable(true).
				WithUserMessage("Could not reach the server. Please try again.")
		}
		return err
	}
	return decodeResponse(resp, nil)
}

// SubmitAdvice uploads the expert's consultation report. It must succeed
// before the request may be completed.
func (c *Client) SubmitAdvice(ctx context.Context, report consultation.Report) error {
	if err := report.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(report)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "encode report")
	}

	resp, err := c.do(ctx, http.MethodPost, "/expert-advice/", body)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeFetchFailed) {
			return apperrors.Wrap(err, apperrors.ErrCodeReportSubmit, "submit advice").
				WithRetryable(true).
				WithUserMessage("Could not submit the report. Please try again.")
		}
		return err
	}
	return decodeResponse(resp, nil)
}
