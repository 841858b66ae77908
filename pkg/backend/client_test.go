package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shonalidesh/agrilink/pkg/consultation"
	apperrors "github.com/shonalidesh/agrilink/pkg/errors"
)

func wireItem(id, status, farmerName string) map[string]any {
	return map[string]any{
		"id":     id,
		"status": status,
		"farmer": map[string]any{
			"id":   "f-1",
			"name": farmerName,
		},
	}
}

func TestListAssignments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/consultations/assignments" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("expert_id"); got != "e-9" {
			t.Errorf("expert_id = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode([]any{
			wireItem("c-1", "PENDING", "Rahima Begum"),
			wireItem("c-2", "ACCEPTED", "Abdul Karim"),
			map[string]any{"status": "PENDING"}, // no id: skipped
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("tok-1"), Options{})
	reqs, skipped, err := c.ListAssignments(context.Background(), "e-9")
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if reqs[0].Status != consultation.StatusNew || reqs[1].Status != consultation.StatusInProgress {
		t.Errorf("statuses = %v, %v", reqs[0].Status, reqs[1].Status)
	}
}

func TestAcceptPostsVerb(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("tok-1"), Options{})
	if err := c.Accept(context.Background(), "c-7", "e-9"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if gotPath != "/consultations/c-7/accept" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["expert_id"] != "e-9" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestMutateNonSuccessIsAPIResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"already assigned"}`, http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("tok-1"), Options{})
	err := c.Accept(context.Background(), "c-7", "e-9")
	if !apperrors.IsCode(err, apperrors.ErrCodeAPIResponse) {
		t.Fatalf("expected API_RESPONSE, got %v", err)
	}
}

func TestMutateTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, StaticToken("tok-1"), Options{})
	err := c.Reject(context.Background(), "c-7", "e-9")
	if !apperrors.IsCode(err, apperrors.ErrCodeMutationFailed) {
		t.Fatalf("expected MUTATION_FAILED, got %v", err)
	}
	if !apperrors.IsRetryable(err) {
		t.Error("transport failure should be retryable")
	}
}

type refreshOnce struct {
	current   atomic.Value
	refreshed atomic.Int32
}

func (r *refreshOnce) Token() (string, error) {
	return r.current.Load().(string), nil
}

func (r *refreshOnce) Refresh(ctx context.Context) (string, error) {
	r.refreshed.Add(1)
	r.current.Store("fresh")
	return "fresh", nil
}

func TestUnauthorizedTriggersSingleRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]any{})
	}))
	defer srv.Close()

	tokens := &refreshOnce{}
	tokens.current.Store("stale")

	c := NewClient(srv.URL, tokens, Options{})
	if _, _, err := c.ListAssignments(context.Background(), "e-9"); err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
	if got := tokens.refreshed.Load(); got != 1 {
		t.Errorf("refreshed %d times, want 1", got)
	}
}

func TestSubmitAdviceValidatesBeforeNetwork(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("tok-1"), Options{})
	err := c.SubmitAdvice(context.Background(), consultation.Report{RequestID: "c-7"})
	if !apperrors.IsCode(err, apperrors.ErrCodeReportInvalid) {
		t.Fatalf("expected REPORT_INVALID, got %v", err)
	}
	if called.Load() {
		t.Error("invalid report must not reach the server")
	}
}

func TestCreateConsultation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/consultations/" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var in CreateRequest
		json.NewDecoder(r.Body).Decode(&in)
		json.NewEncoder(w).Encode(wireItem("c-100", "PENDING", "Rahima Begum"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("tok-1"), Options{})
	req, err := c.CreateConsultation(context.Background(), CreateRequest{
		FarmerID:    "f-1",
		Category:    "Pest Control",
		Description: "Leaves turning yellow",
	})
	if err != nil {
		t.Fatalf("CreateConsultation: %v", err)
	}
	if req.ID != "c-100" || req.Status != consultation.StatusNew {
		t.Errorf("created = %+v", req)
	}
}

func TestRefreshingTokenExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		if in["refresh_token"] != "r-tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "a-tok-2"})
	}))
	defer srv.Close()

	ts := NewRefreshingToken(srv.URL, "r-tok", "a-tok-1")
	got, err := ts.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got != "a-tok-2" {
		t.Errorf("access token = %q", got)
	}
	cur, _ := ts.Token()
	if cur != "a-tok-2" {
		t.Errorf("Token() after refresh = %q", cur)
	}
}
