package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shonalidesh/agrilink/pkg/bus"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/storage"
)

type testEnv struct {
	srv  *httptest.Server
	snap chan []json.RawMessage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := storage.New(filepath.Join(t.TempDir(), "dev.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mb := bus.NewMemoryBus()
	t.Cleanup(func() { mb.Close() })

	snap := make(chan []json.RawMessage, 16)
	_, err = mb.Subscribe(context.Background(), bus.SubjectSnapshot, func(msg *bus.Message) {
		var items []json.RawMessage
		if json.Unmarshal(msg.Data, &items) == nil {
			snap <- items
		}
	})
	require.NoError(t, err)

	server := NewServer(st, mb, logging.NewDiscardLogger(), Options{})
	t.Cleanup(server.Close)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, snap: snap}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (e *testEnv) create(t *testing.T, farmerID, farmerName string) string {
	t.Helper()
	resp := e.post(t, "/api/v1/consultations/", map[string]string{
		"farmer_id":   farmerID,
		"farmer_name": farmerName,
		"issue_type":  "Pest Control",
		"description": "Leaves turning yellow",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.ID)
	require.Equal(t, "PENDING", out.Status)
	return out.ID
}

func (e *testEnv) nextSnapshot(t *testing.T) []json.RawMessage {
	t.Helper()
	select {
	case items := <-e.snap:
		return items
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
		return nil
	}
}

func TestCreatePublishesSnapshot(t *testing.T) {
	env := newTestEnv(t)

	env.create(t, "f-1", "Rahima Begum")

	items := env.nextSnapshot(t)
	require.Len(t, items, 1)

	var item struct {
		Status string `json:"status"`
		Farmer struct {
			Name string `json:"name"`
		} `json:"farmer"`
	}
	require.NoError(t, json.Unmarshal(items[0], &item))
	assert.Equal(t, "PENDING", item.Status)
	assert.Equal(t, "Rahima Begum", item.Farmer.Name)
}

func TestAcceptFlow(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "f-1", "Rahima Begum")
	env.nextSnapshot(t)

	resp := env.post(t, "/api/v1/consultations/"+id+"/accept", map[string]string{"expert_id": "e-9"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	items := env.nextSnapshot(t)
	require.Len(t, items, 1)
	var item struct {
		Status   string `json:"status"`
		ExpertID string `json:"expert_id"`
	}
	require.NoError(t, json.Unmarshal(items[0], &item))
	assert.Equal(t, "ACCEPTED", item.Status)
	assert.Equal(t, "e-9", item.ExpertID)

	// A second accept loses the race.
	resp = env.post(t, "/api/v1/consultations/"+id+"/accept", map[string]string{"expert_id": "e-other"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCompleteRequiresAcceptedState(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "f-1", "Rahima Begum")

	resp := env.post(t, "/api/v1/consultations/"+id+"/complete", map[string]string{"expert_id": "e-9"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "completing a PENDING request must fail")
}

func TestAdviceThenComplete(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "f-1", "Rahima Begum")

	resp := env.post(t, "/api/v1/consultations/"+id+"/accept", map[string]string{"expert_id": "e-9"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.post(t, "/api/v1/expert-advice/", map[string]any{
		"request_id":      id,
		"problem_summary": "Brown planthopper infestation",
		"diagnosis":       "High pest density",
		"recommendation":  "Drain field",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.post(t, "/api/v1/consultations/"+id+"/complete", map[string]string{"expert_id": "e-9"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdviceRejectsIncompleteReport(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "f-1", "Rahima Begum")

	resp := env.post(t, "/api/v1/expert-advice/", map[string]any{
		"request_id":      id,
		"problem_summary": "Something",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAssignmentsFilter(t *testing.T) {
	env := newTestEnv(t)
	pending := env.create(t, "f-1", "Rahima Begum")
	claimed := env.create(t, "f-2", "Abdul Karim")
	other := env.create(t, "f-3", "Third Farmer")

	resp := env.post(t, "/api/v1/consultations/"+claimed+"/accept", map[string]string{"expert_id": "e-9"})
	resp.Body.Close()
	resp = env.post(t, "/api/v1/consultations/"+other+"/accept", map[string]string{"expert_id": "e-other"})
	resp.Body.Close()

	httpResp, err := http.Get(env.srv.URL + "/api/v1/consultations/assignments?expert_id=e-9")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var items []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&items))
	require.Len(t, items, 2)
	ids := []string{items[0].ID, items[1].ID}
	assert.Contains(t, ids, pending)
	assert.Contains(t, ids, claimed)
}

func TestFarmerListFilter(t *testing.T) {
	env := newTestEnv(t)
	mine := env.create(t, "f-1", "Rahima Begum")
	env.create(t, "f-2", "Abdul Karim")

	resp, err := http.Get(env.srv.URL + "/api/v1/consultations/?farmer_id=f-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var items []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, mine, items[0].ID)
}

func TestUnknownConsultationIs404(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/consultations/missing/accept", map[string]string{"expert_id": "e-9"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPushDisabledIs404(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/api/v1/push/key")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
