package comfyui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imageforge/internal/config"
	"imageforge/internal/workflow"
)

func testClient(endpoint, token string) *Client {
	return NewClient(config.ComfyConfig{
		Endpoint:    endpoint,
		BearerToken: token,
		CallTimeout: 5 * time.Second,
	})
}

func TestBuildURL(t *testing.T) {
	cases := []struct {
		endpoint string
		path     string
		want     string
	}{
		{"localhost:8188", "/prompt", "http://localhost:8188/prompt"},
		{"http://localhost:8188", "prompt", "http://localhost:8188/prompt"},
		{"https://comfy.example.com/", "/queue", "https://comfy.example.com/queue"},
	}
	for _, tc := range cases {
		c := testClient(tc.endpoint, "")
		assert.Equal(t, tc.want, c.buildURL(tc.path))
	}
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL, "secret-token")
	require.NoError(t, c.HealthCheck(context.Background()))
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestSubmitWorkflow(t *testing.T) {
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/prompt", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "job-42"})
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	graph := workflow.Graph{
		"1": {ClassType: "SaveImage", Inputs: map[string]interface{}{}},
	}

	jobID, err := c.SubmitWorkflow(context.Background(), graph, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)
	assert.Contains(t, gotBody, "prompt")
	assert.JSONEq(t, `"client-1"`, string(gotBody["client_id"]))
}

func TestSubmitWorkflowMissingPromptID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	_, err := c.SubmitWorkflow(context.Background(), workflow.Graph{}, "client-1")
	assert.ErrorIs(t, err, ErrSubmit)
}

func TestSubmitWorkflowServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	_, err := c.SubmitWorkflow(context.Background(), workflow.Graph{}, "client-1")
	assert.ErrorIs(t, err, ErrSubmit)
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	// a closed server guarantees a refused connection
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := testClient(srv.URL, "")
	_, err := c.SubmitWorkflow(context.Background(), workflow.Graph{}, "client-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUploadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload/image", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "input.png", header.Filename)
		json.NewEncoder(w).Encode(map[string]string{"name": "input_00001.png"})
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	name, err := c.UploadImage(context.Background(), []byte("fake png"), "input.png")
	require.NoError(t, err)
	assert.Equal(t, "input_00001.png", name)
}

func TestQueryQueueParsesEntryArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/queue", r.URL.Path)
		// queue entries are [number, job_id, ...] arrays
		w.Write([]byte(`{
			"queue_running": [[0, "job-a", {}]],
			"queue_pending": [[1, "job-b", {}], [2, "job-c", {}]]
		}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	state, err := c.QueryQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"job-a"}, state.Running)
	assert.Equal(t, []string{"job-b", "job-c"}, state.Pending)
}

func TestQueryHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/history/job-42", r.URL.Path)
		w.Write([]byte(`{
			"job-42": {
				"outputs": {
					"7": {"images": [{"filename": "out.png", "subfolder": "", "type": "output"}]}
				}
			}
		}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	outputs, done, err := c.QueryHistory(context.Background(), "job-42")
	require.NoError(t, err)
	assert.True(t, done)
	require.Contains(t, outputs, "7")
	assert.Equal(t, "out.png", outputs["7"].Images[0].Filename)
}

func TestQueryHistoryNotFinished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	_, done, err := c.QueryHistory(context.Background(), "job-42")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestFetchArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/view", r.URL.Path)
		assert.Equal(t, "out.png", r.URL.Query().Get("filename"))
		assert.Equal(t, "output", r.URL.Query().Get("type"))
		w.Write([]byte("image bytes"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	data, err := c.FetchArtifact(context.Background(), ImageRef{Filename: "out.png", Type: "output"})
	require.NoError(t, err)
	assert.Equal(t, []byte("image bytes"), data)
}

func TestFetchArtifactNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	_, err := c.FetchArtifact(context.Background(), ImageRef{Filename: "missing.png"})
	assert.ErrorIs(t, err, ErrFetch)
}

func TestUploadImageRejectsEmptyName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"name": ""})
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	_, err := c.UploadImage(context.Background(), []byte("x"), "input.png")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing name"))
	assert.ErrorIs(t, err, ErrUpload)
}
