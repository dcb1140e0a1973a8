package services

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lcrd-backend/internal/artifacts"
	"lcrd-backend/internal/gateway"
	"lcrd-backend/internal/platform/apierr"
	"lcrd-backend/internal/repos"
	"lcrd-backend/internal/types"
)

func TestRunHappyPath(t *testing.T) {
	env := newTestEnv(t)
	svc := env.predictService(happyModel(t))
	sessionID := uuid.New()
	ctx := context.Background()

	result, err := svc.Run(ctx, sessionID, testUploadArchive(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SessionID != sessionID {
		t.Fatalf("SessionID=%s, want %s", result.SessionID, sessionID)
	}
	wantImages := []string{"images/overlay_001.dcm", "images/overlay_002.dcm"}
	if !reflect.DeepEqual(result.Images, wantImages) {
		t.Fatalf("Images=%v, want %v", result.Images, wantImages)
	}
	if result.Gif != "gif/animation.gif" {
		t.Fatalf("Gif=%q", result.Gif)
	}

	session, err := env.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		t.Fatalf("session row missing: %v", err)
	}
	if session.Saved {
		t.Fatalf("fresh session must not be saved")
	}

	rec, err := env.predictionRepo.GetBySessionID(ctx, nil, sessionID)
	if err != nil {
		t.Fatalf("prediction row missing: %v", err)
	}
	var predictions [][]float64
	if err := json.Unmarshal(rec.Predictions, &predictions); err != nil {
		t.Fatalf("decode predictions: %v", err)
	}
	if !reflect.DeepEqual(predictions, [][]float64{{0.1, 0.2}}) {
		t.Fatalf("persisted predictions=%v", predictions)
	}

	uploads := env.store.ListFiles(sessionID, artifacts.KindUpload)
	if len(uploads.Files) != 3 || len(uploads.Errors) != 0 {
		t.Fatalf("uploads listing=%+v", uploads)
	}
}

func TestRunOverlayFanoutWhenNoArchiveLink(t *testing.T) {
	env := newTestEnv(t)
	model := happyModel(t)
	base := model.predict
	model.predict = func(ctx context.Context, archive []byte) (*gateway.PredictResponse, error) {
		resp, _ := base(ctx, archive)
		resp.ResultArchiveLink = ""
		return resp, nil
	}
	fetched := map[string]int{}
	model.fetch = func(ctx context.Context, url string) ([]byte, error) {
		fetched[url]++
		return []byte("overlay-bytes"), nil
	}

	result, err := env.predictService(model).Run(context.Background(), uuid.New(), testUploadArchive(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fetched) != 2 {
		t.Fatalf("fetched=%v, want both overlay links", fetched)
	}
	if len(result.Images) != 2 {
		t.Fatalf("Images=%v", result.Images)
	}
}

func TestRunIDCollisionFailsFast(t *testing.T) {
	env := newTestEnv(t)
	sessionID := uuid.New()
	ctx := context.Background()
	if _, err := env.sessionRepo.Create(ctx, nil, sessionID); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	_, err := env.predictService(happyModel(t)).Run(ctx, sessionID, testUploadArchive(t))
	if !apierr.IsConflict(err) {
		t.Fatalf("err=%v, want conflict", err)
	}
	// No artifacts were written for the colliding id.
	uploads := env.store.ListFiles(sessionID, artifacts.KindUpload)
	if len(uploads.Files) != 0 {
		t.Fatalf("uploads=%v, want none", uploads.Files)
	}
}

func TestRunMalformedArchiveCompensation(t *testing.T) {
	env := newTestEnv(t)
	sessionID := uuid.New()
	ctx := context.Background()

	_, err := env.predictService(happyModel(t)).Run(ctx, sessionID, []byte("not a zip"))
	if apierr.CodeOf(err) != apierr.CodeExtractionFailed {
		t.Fatalf("err=%v, want extraction_failed", err)
	}
	if _, err := env.sessionRepo.GetByID(ctx, nil, sessionID); !apierr.IsNotFound(err) {
		t.Fatalf("registry row should be gone, got %v", err)
	}
}

func TestRunGatewayFailureCompensation(t *testing.T) {
	env := newTestEnv(t)
	model := happyModel(t)
	model.predict = func(ctx context.Context, archive []byte) (*gateway.PredictResponse, error) {
		return nil, apierr.UpstreamUnavailable(errors.New("connect timeout"))
	}
	sessionID := uuid.New()
	ctx := context.Background()

	_, err := env.predictService(model).Run(ctx, sessionID, testUploadArchive(t))
	if apierr.CodeOf(err) != apierr.CodeUpstreamUnavailable {
		t.Fatalf("err=%v, want upstream_unavailable", err)
	}

	// No orphan row, no prediction, no unreachable artifacts.
	if _, err := env.sessionRepo.GetByID(ctx, nil, sessionID); !apierr.IsNotFound(err) {
		t.Fatalf("registry row should be gone, got %v", err)
	}
	if _, err := env.predictionRepo.GetBySessionID(ctx, nil, sessionID); !apierr.IsNotFound(err) {
		t.Fatalf("prediction should not exist, got %v", err)
	}
	uploads := env.store.ListFiles(sessionID, artifacts.KindUpload)
	if len(uploads.Files) != 0 {
		t.Fatalf("staged upload should be removed, got %v", uploads.Files)
	}
}

func TestRunMaterializeFailureKeepsUpload(t *testing.T) {
	env := newTestEnv(t)
	model := happyModel(t)
	model.fetch = func(ctx context.Context, url string) ([]byte, error) {
		return []byte("garbage, not a zip"), nil
	}
	sessionID := uuid.New()
	ctx := context.Background()

	_, err := env.predictService(model).Run(ctx, sessionID, testUploadArchive(t))
	if apierr.CodeOf(err) != apierr.CodeExtractionFailed {
		t.Fatalf("err=%v, want extraction_failed", err)
	}

	if _, err := env.sessionRepo.GetByID(ctx, nil, sessionID); !apierr.IsNotFound(err) {
		t.Fatalf("registry row should be gone, got %v", err)
	}
	// Upload is valid input and stays; the partial result directory goes.
	uploads := env.store.ListFiles(sessionID, artifacts.KindUpload)
	if len(uploads.Files) != 3 {
		t.Fatalf("uploads=%v, want the staged files kept", uploads.Files)
	}
	results := env.store.ListFiles(sessionID, artifacts.KindResult)
	if len(results.Files) != 0 || len(results.Errors) != 1 {
		t.Fatalf("results listing=%+v, want removed directory", results)
	}
}

func TestSessionDetail(t *testing.T) {
	env := newTestEnv(t)
	sessionID := runCompletedSession(t, env)
	ctx := context.Background()

	detail, err := env.predictService(happyModel(t)).SessionDetail(ctx, sessionID)
	if err != nil {
		t.Fatalf("SessionDetail: %v", err)
	}
	if detail.Prediction == nil {
		t.Fatalf("Prediction missing")
	}
	if len(detail.Uploads.Files) != 3 || len(detail.Results.Files) != 3 {
		t.Fatalf("listings=%+v / %+v", detail.Uploads, detail.Results)
	}

	// Damaged session: artifacts vanished but the row survived. The listing
	// degrades into diagnostics instead of failing.
	env.store.DeleteSession(sessionID)
	detail, err = env.predictService(happyModel(t)).SessionDetail(ctx, sessionID)
	if err != nil {
		t.Fatalf("SessionDetail after damage: %v", err)
	}
	if len(detail.Uploads.Errors) != 1 || len(detail.Results.Errors) != 1 {
		t.Fatalf("want diagnostics, got %+v / %+v", detail.Uploads, detail.Results)
	}

	if _, err := env.predictService(happyModel(t)).SessionDetail(ctx, uuid.New()); !apierr.IsNotFound(err) {
		t.Fatalf("unknown session err=%v, want not_found", err)
	}
}

// brokenPredictionRepo fails every read, as a dropped connection would.
type brokenPredictionRepo struct {
	repos.PredictionRepo
}

func (r *brokenPredictionRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.PredictionRecord, error) {
	return nil, errors.New("connection reset")
}

func TestSessionDetailSurfacesPredictionReadFailure(t *testing.T) {
	env := newTestEnv(t)
	sessionID := runCompletedSession(t, env)
	ctx := context.Background()

	svc := NewPredictService(env.db, env.log, env.sessionRepo,
		&brokenPredictionRepo{PredictionRepo: env.predictionRepo}, env.store, happyModel(t))
	_, err := svc.SessionDetail(ctx, sessionID)
	if err == nil {
		t.Fatalf("read failure reported as missing prediction")
	}
	if apierr.IsNotFound(err) {
		t.Fatalf("read failure classified not_found: %v", err)
	}
}
