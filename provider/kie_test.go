package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CharacterReel-server/logging"
	"CharacterReel-server/pipeline"
)

type fakeAPI struct {
	created atomic.Int32
	polls   atomic.Int32
	// states are returned in order by recordInfo; the last one repeats.
	states    []string
	resultURL string
	lastBody  map[string]interface{}
	authz     string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		f.authz = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastBody))
		f.created.Add(1)
		writeJSON(w, map[string]interface{}{"code": 200, "msg": "success", "data": map[string]string{"taskId": "task-1"}})
	})
	mux.HandleFunc("/jobs/recordInfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "task-1", r.URL.Query().Get("taskId"))
		n := int(f.polls.Add(1))
		state := f.states[len(f.states)-1]
		if n <= len(f.states) {
			state = f.states[n-1]
		}
		data := map[string]interface{}{"taskId": "task-1", "state": state}
		switch state {
		case "success":
			inner, _ := json.Marshal(map[string][]string{"resultUrls": {f.resultURL}})
			data["resultJson"] = string(inner)
		case "fail":
			data["failMsg"] = "nsfw content detected"
		}
		writeJSON(w, map[string]interface{}{"code": 200, "msg": "success", "data": data})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:      srv.URL,
		APIKey:       "secret-key-123456",
		WaitInterval: time.Millisecond,
		WaitTimeout:  time.Second,
		Logger:       logging.Discard(),
	})
}

func TestMapState(t *testing.T) {
	tests := []struct {
		in   string
		want pipeline.JobState
	}{
		{"waiting", pipeline.JobPending},
		{"generating", pipeline.JobProcessing},
		{"success", pipeline.JobCompleted},
		{"fail", pipeline.JobFailed},
		{"queued", pipeline.JobProcessing},
		{"", pipeline.JobProcessing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapState(tt.in), tt.in)
	}
}

func TestResultURLs(t *testing.T) {
	assert.Equal(t, []string{"a"}, resultURLs(json.RawMessage(`"{\"resultUrls\":[\"a\"]}"`)))
	assert.Equal(t, []string{"b"}, resultURLs(json.RawMessage(`{"resultUrls":["b"]}`)))
	assert.Nil(t, resultURLs(json.RawMessage(`null`)))
	assert.Nil(t, resultURLs(json.RawMessage(`"not json"`)))
}

func TestStyleClient_WaitsForResult(t *testing.T) {
	api := &fakeAPI{states: []string{"waiting", "generating", "success"}, resultURL: "https://cdn.test/styled.png"}
	c := newTestClient(t, api)

	url, err := NewStyleClient(c, "google/nano-banana-edit").Stylize(context.Background(), "https://store.test/a.png", "sketch")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/styled.png", url)
	assert.Equal(t, int32(3), api.polls.Load())
	assert.Equal(t, "Bearer secret-key-123456", api.authz)
	assert.Equal(t, "google/nano-banana-edit", api.lastBody["model"])
	input := api.lastBody["input"].(map[string]interface{})
	assert.Equal(t, []interface{}{"https://store.test/a.png"}, input["image_urls"])
	assert.Equal(t, "png", input["output_format"])
}

func TestComposeClient_PicksModelByReferences(t *testing.T) {
	api := &fakeAPI{states: []string{"success"}, resultURL: "https://cdn.test/scene.png"}
	c := newTestClient(t, api)
	cc := NewComposeClient(c, "flux-2/pro-image-to-image", "flux-2/pro-text-to-image")

	_, err := cc.Compose(context.Background(), pipeline.ComposeRequest{Prompt: "beach", AspectRatio: "9:16"})
	require.NoError(t, err)
	assert.Equal(t, "flux-2/pro-text-to-image", api.lastBody["model"])
	assert.NotContains(t, api.lastBody["input"], "input_urls")

	_, err = cc.Compose(context.Background(), pipeline.ComposeRequest{
		Prompt: "beach", AspectRatio: "9:16", ReferenceURLs: []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "flux-2/pro-image-to-image", api.lastBody["model"])
	input := api.lastBody["input"].(map[string]interface{})
	assert.Equal(t, []interface{}{"a", "b"}, input["input_urls"])
	assert.Equal(t, "1K", input["resolution"])
}

func TestWaitForTask_ProviderFailure(t *testing.T) {
	api := &fakeAPI{states: []string{"generating", "fail"}}
	c := newTestClient(t, api)

	_, err := c.WaitForTask(context.Background(), "task-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nsfw content detected")
}

func TestWaitForTask_Timeout(t *testing.T) {
	api := &fakeAPI{states: []string{"generating"}}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	c := New(Options{BaseURL: srv.URL, WaitInterval: time.Millisecond, WaitTimeout: 20 * time.Millisecond, Logger: logging.Discard()})

	_, err := c.WaitForTask(context.Background(), "task-1")
	assert.Equal(t, pipeline.KindTimeout, pipeline.KindOf(err))
}

func TestVideoClient_SubmitAndPoll(t *testing.T) {
	api := &fakeAPI{states: []string{"waiting", "success"}, resultURL: "https://cdn.test/clip.mp4"}
	c := newTestClient(t, api)
	v := NewVideoClient(c, "kling/v2-5-turbo-image-to-video-pro")

	id, err := v.Submit(context.Background(), pipeline.AnimateRequest{
		ImageURL: "https://store.test/s1.png", Prompt: "wave", NegativePrompt: "blur", DurationSeconds: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	input := api.lastBody["input"].(map[string]interface{})
	assert.Equal(t, "5", input["duration"])
	assert.Equal(t, 0.5, input["cfg_scale"])

	st, err := v.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobPending, st.State)
	st, err = v.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobCompleted, st.State)
	assert.Equal(t, "https://cdn.test/clip.mp4", st.ResultURL)
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": 402, "msg": "insufficient credits"})
	}))
	defer srv.Close()
	c := New(Options{BaseURL: srv.URL, Logger: logging.Discard()})

	_, err := c.CreateTask(context.Background(), "m", map[string]string{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 402, apiErr.Code)
}
