package e2e

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/senas/internal/app"
	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/classifier"
	"github.com/ayusman/senas/internal/config"
	"github.com/ayusman/senas/internal/detector"
	"github.com/ayusman/senas/internal/server"
	"github.com/ayusman/senas/internal/store"
	"github.com/ayusman/senas/internal/training"
)

// denseModel scores class 0 highest for every input of length 63.
func denseModel() string {
	row := "[0,0]"
	rows := strings.TrimSuffix(strings.Repeat(row+",", detector.FeatureLength), ",")
	return `{"input_size":63,"layers":[{"weights":[` + rows + `],"bias":[2,0],"activation":"softmax"}]}`
}

type harness struct {
	cfg      *config.Config
	session  *app.Session
	detector *detector.MockDetector
	ts       *httptest.Server
	client   *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dataDir := t.TempDir()
	for _, k := range []string{config.EnvAddr, config.EnvCamera, config.EnvUserID} {
		t.Setenv(k, "")
	}
	t.Setenv(config.EnvDataDir, dataDir)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.Camera.Manager.RetryBackoff = time.Millisecond

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	labels, err := cfg.LabelSets()
	if err != nil {
		t.Fatalf("LabelSets() error = %v", err)
	}

	frame := capture.SolidFrame(48, 64)
	t.Cleanup(func() { frame.Close() })

	det := detector.NewMockDetector()
	sess, err := app.New(app.Config{
		Camera:     capture.NewMockCamera([]*gocv.Mat{frame}, true),
		Manager:    cfg.Camera.Manager,
		Detector:   det,
		Registry:   classifier.NewRegistry(classifier.NewArtifactStore(cfg.Models.Dir)),
		Labels:     labels,
		Stabilizer: cfg.Stabilizer,
		Pipeline:   cfg.Pipeline,
		Store:      st,
		DatasetDir: cfg.Training.DatasetDir,

		EventRetention: cfg.Store.Retention,
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sess.Start(ctx)
	t.Cleanup(sess.Shutdown)

	srv := server.New(server.Config{
		Session: sess,
		Trainer: training.NewRunner(cfg.Training, cfg.Models.Dir),
	})
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &harness{cfg: cfg, session: sess, detector: det, ts: ts, client: ts.Client()}
}

func (h *harness) post(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := h.client.Post(h.ts.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := h.client.Get(h.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s decode error = %v", path, err)
		}
	}
	return resp
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	h := newHarness(t)

	t.Run("NoModelYet", func(t *testing.T) {
		if resp := h.post(t, "/model/load?userId=maria"); resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}

		var last struct {
			Label string `json:"label"`
		}
		h.get(t, "/gesture/last", &last)
		if last.Label != "none" {
			t.Errorf("label = %q, want none", last.Label)
		}
	})

	t.Run("LoadModel", func(t *testing.T) {
		dir := filepath.Join(h.cfg.Models.Dir, "maria")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "maria_model.json"), []byte(denseModel()), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "maria_labels.json"), []byte(`{"B":0,"J":1}`), 0o644); err != nil {
			t.Fatal(err)
		}

		if resp := h.post(t, "/model/load?userId=maria"); resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var models struct {
			Users  []string `json:"users"`
			Active string   `json:"active"`
			Loads  []struct {
				UserID string `json:"userId"`
			} `json:"loads"`
		}
		h.get(t, "/api/models", &models)
		if models.Active != "maria" || len(models.Users) != 1 || len(models.Loads) != 1 {
			t.Errorf("models = %+v", models)
		}
	})

	t.Run("StreamRecognizes", func(t *testing.T) {
		if resp := h.get(t, "/video-stream", nil); resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("closed camera: status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
		}

		h.detector.SetHands([]detector.HandLandmarks{detector.ThumbsUpLandmarks()})
		if resp := h.post(t, "/camera/open"); resp.StatusCode != http.StatusOK {
			t.Fatalf("open: status = %d", resp.StatusCode)
		}

		resp, err := h.client.Get(h.ts.URL + "/video-stream")
		if err != nil {
			t.Fatalf("GET /video-stream error = %v", err)
		}
		defer resp.Body.Close()

		_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if err != nil {
			t.Fatalf("Content-Type: %v", err)
		}
		mr := multipart.NewReader(resp.Body, params["boundary"])
		for i := 0; i < 2; i++ {
			part, err := mr.NextPart()
			if err != nil {
				t.Fatalf("part %d: %v", i, err)
			}
			io.Copy(io.Discard, part)
		}

		var last struct {
			Label                  string  `json:"label"`
			DetectedAtEpochSeconds float64 `json:"detectedAtEpochSeconds"`
		}
		h.get(t, "/gesture/last", &last)
		if last.Label != "B" || last.DetectedAtEpochSeconds == 0 {
			t.Errorf("last = %+v, want label B", last)
		}

		h.post(t, "/camera/close")
		io.Copy(io.Discard, resp.Body)
	})

	t.Run("EventsPersisted", func(t *testing.T) {
		var events struct {
			Events []struct {
				ID     string `json:"id"`
				Label  string `json:"label"`
				Type   string `json:"type"`
				UserID string `json:"userId"`
			} `json:"events"`
		}
		h.get(t, "/api/gestures/events", &events)
		if len(events.Events) != 1 {
			t.Fatalf("events = %+v, want exactly one fresh gesture", events.Events)
		}
		e := events.Events[0]
		if e.Label != "B" || e.Type != "static" || e.UserID != "maria" {
			t.Errorf("event = %+v", e)
		}

		var one struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		}
		h.get(t, "/api/gestures/events/"+e.ID, &one)
		if one.ID != e.ID || one.Label != "B" {
			t.Errorf("event by id = %+v", one)
		}
	})

	t.Run("TrainNotConfigured", func(t *testing.T) {
		if resp := h.post(t, "/model/train?userId=maria"); resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
		}
	})

	t.Run("CaptureSample", func(t *testing.T) {
		resp := h.post(t, "/dataset/capture?userId=maria&label=C")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var got struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		want := filepath.Join(h.cfg.Training.DatasetDir, "maria", "C", "C_1.jpg")
		if got.Path != want {
			t.Errorf("path = %s, want %s", got.Path, want)
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("sample not written: %v", err)
		}
		h.post(t, "/camera/close")
	})

	t.Run("HealthStillWorks", func(t *testing.T) {
		if resp := h.get(t, "/api/health", nil); resp.StatusCode != http.StatusOK {
			t.Errorf("health check failed after session operations")
		}
	})
}
