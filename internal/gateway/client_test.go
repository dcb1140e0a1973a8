package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lcrd-backend/internal/platform/apierr"
	"lcrd-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(testLogger(t), Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

const validBody = `{
	"predictions": [[0.1, 0.2, 0.3]],
	"overlayImages": [
		{"filename": "overlay_001.dcm", "downloadLink": "/artifacts/overlay_001.dcm"},
		{"filename": "overlay_002.dcm", "downloadLink": "/artifacts/overlay_002.dcm"}
	],
	"resultArchiveLink": "/artifacts/result.zip"
}`

func TestPredictSendsMultipartAndDecodes(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api_predict" {
			t.Errorf("path=%s, want /api_predict", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "upload.zip" {
			t.Errorf("filename=%s", header.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(validBody))
	}))

	resp, err := c.Predict(context.Background(), []byte("zipbytes"))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(resp.Predictions) != 1 || len(resp.Predictions[0]) != 3 {
		t.Fatalf("Predictions=%v", resp.Predictions)
	}
	if len(resp.OverlayImages) != 2 {
		t.Fatalf("OverlayImages=%v", resp.OverlayImages)
	}
	if resp.ResultArchiveLink != "/artifacts/result.zip" {
		t.Fatalf("ResultArchiveLink=%q", resp.ResultArchiveLink)
	}
}

func TestPredictUpstreamRejected(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "model crashed"}`))
	}))

	_, err := c.Predict(context.Background(), []byte("zipbytes"))
	if apierr.CodeOf(err) != apierr.CodeUpstreamRejected {
		t.Fatalf("err=%v, want upstream_rejected", err)
	}
	if !strings.Contains(err.Error(), "model crashed") {
		t.Fatalf("error text %q should carry the upstream message", err.Error())
	}
}

func TestPredictUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c, err := New(testLogger(t), Options{BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Predict(context.Background(), []byte("zipbytes"))
	if apierr.CodeOf(err) != apierr.CodeUpstreamUnavailable {
		t.Fatalf("err=%v, want upstream_unavailable", err)
	}
}

func TestPredictTimeoutIsUnavailable(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	// Rebuild with a timeout shorter than the handler's sleep.
	short, err := New(testLogger(t), Options{BaseURL: c.BaseURL(), Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = short.Predict(context.Background(), []byte("zipbytes"))
	if apierr.CodeOf(err) != apierr.CodeUpstreamUnavailable {
		t.Fatalf("err=%v, want upstream_unavailable", err)
	}
}

func TestPredictInvalidResponse(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not_json", "<html>oops</html>"},
		{"missing_predictions", `{"overlayImages": [{"filename": "a.dcm", "downloadLink": "/a"}]}`},
		{"empty_overlays", `{"predictions": [[0.1]], "overlayImages": []}`},
		{"overlay_without_link", `{"predictions": [[0.1]], "overlayImages": [{"filename": "a.dcm"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			_, err := c.Predict(context.Background(), []byte("zipbytes"))
			if apierr.CodeOf(err) != apierr.CodeInvalidResponse {
				t.Fatalf("err=%v, want invalid_response", err)
			}
		})
	}
}

func TestFetchArtifactResolvesRelativeLinks(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/artifacts/result.zip" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("archive-bytes"))
	}))

	raw, err := c.FetchArtifact(context.Background(), "/artifacts/result.zip")
	if err != nil {
		t.Fatalf("FetchArtifact: %v", err)
	}
	if string(raw) != "archive-bytes" {
		t.Fatalf("raw=%q", raw)
	}

	_, err = c.FetchArtifact(context.Background(), "/artifacts/missing.zip")
	if apierr.CodeOf(err) != apierr.CodeUpstreamRejected {
		t.Fatalf("missing artifact err=%v, want upstream_rejected", err)
	}
}
