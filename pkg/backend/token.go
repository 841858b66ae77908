package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/shonalidesh/agrilink/pkg/errors"
)

// RefreshingToken exchanges a long-lived refresh token for fresh access
// tokens against the auth endpoint. Safe for concurrent use.
type RefreshingToken struct {
	refreshURL   string
	refreshToken string
	httpClient   *http.Client

	mu     sync.Mutex
	access string
}

// NewRefreshingToken creates a token source. accessToken may be empty; the
// first 401 triggers a refresh.
func NewRefreshingToken(refreshURL, refreshToken, accessToken string) *RefreshingToken {
	return &RefreshingToken{
		refreshURL:   refreshURL,
		refreshToken: refreshToken,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		access:       accessToken,
	}
}

// Token returns the current access token.
func (r *RefreshingToken) Token() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.access, nil
}

// Refresh exchanges the refresh token for a new access token.
func (r *RefreshingToken) Refresh(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": r.refreshToken})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "encode refresh payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "build refresh request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeAuthExpired, "refresh token").
			WithUserMessage("Your session has expired. Please log in again.")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.New(apperrors.ErrCodeAuthExpired, "refresh rejected").
			WithContext("status", resp.StatusCode).
			WithUserMessage("Your session has expired. Please log in again.")
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeAuthExpired, "decode refresh response")
	}

	r.mu.Lock()
	r.access = out.AccessToken
	r.mu.Unlock()
	return out.AccessToken, nil
}
