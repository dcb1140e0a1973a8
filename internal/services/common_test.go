package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"lcrd-backend/internal/artifacts"
	"lcrd-backend/internal/gateway"
	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/repos"
	"lcrd-backend/internal/types"
)

type testEnv struct {
	db             *gorm.DB
	log            *logger.Logger
	sessionRepo    repos.SessionRepo
	predictionRepo repos.PredictionRepo
	patientRepo    repos.PatientRepo
	store          artifacts.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&types.Session{}, &types.PredictionRecord{}, &types.PatientRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	root := t.TempDir()
	store, err := artifacts.New(log, filepath.Join(root, "uploads"), filepath.Join(root, "results"))
	if err != nil {
		t.Fatalf("artifacts.New: %v", err)
	}

	return &testEnv{
		db:             gdb,
		log:            log,
		sessionRepo:    repos.NewSessionRepo(gdb, log),
		predictionRepo: repos.NewPredictionRepo(gdb, log),
		patientRepo:    repos.NewPatientRepo(gdb, log),
		store:          store,
	}
}

func (e *testEnv) predictService(model ModelGateway) PredictService {
	return NewPredictService(e.db, e.log, e.sessionRepo, e.predictionRepo, e.store, model)
}

func (e *testEnv) patientService() PatientService {
	return NewPatientService(e.db, e.log, e.sessionRepo, e.predictionRepo, e.patientRepo, e.store)
}

// fakeModel lets tests script the inference boundary.
type fakeModel struct {
	predict func(ctx context.Context, archive []byte) (*gateway.PredictResponse, error)
	fetch   func(ctx context.Context, url string) ([]byte, error)
}

func (f *fakeModel) Predict(ctx context.Context, archive []byte) (*gateway.PredictResponse, error) {
	return f.predict(ctx, archive)
}

func (f *fakeModel) FetchArtifact(ctx context.Context, url string) ([]byte, error) {
	return f.fetch(ctx, url)
}

func testUploadArchive(t *testing.T) []byte {
	t.Helper()
	archive, err := artifacts.ZipBytes(map[string][]byte{
		"scan_001.dcm": []byte("s1"),
		"scan_002.dcm": []byte("s2"),
		"scan_003.dcm": []byte("s3"),
	})
	if err != nil {
		t.Fatalf("ZipBytes: %v", err)
	}
	return archive
}

func testResultArchive(t *testing.T) []byte {
	t.Helper()
	archive, err := artifacts.ZipBytes(map[string][]byte{
		"images/overlay_001.dcm": []byte("o1"),
		"images/overlay_002.dcm": []byte("o2"),
		"gif/animation.gif":      []byte("gif"),
	})
	if err != nil {
		t.Fatalf("ZipBytes: %v", err)
	}
	return archive
}

// happyModel answers every predict with two overlays and a result archive.
func happyModel(t *testing.T) *fakeModel {
	t.Helper()
	resultArchive := testResultArchive(t)
	return &fakeModel{
		predict: func(ctx context.Context, archive []byte) (*gateway.PredictResponse, error) {
			return &gateway.PredictResponse{
				Predictions: [][]float64{{0.1, 0.2}},
				OverlayImages: []gateway.OverlayImage{
					{Filename: "overlay_001.dcm", DownloadLink: "/artifacts/overlay_001.dcm"},
					{Filename: "overlay_002.dcm", DownloadLink: "/artifacts/overlay_002.dcm"},
				},
				ResultArchiveLink: "/artifacts/result.zip",
				AttentionInfo: &types.AttentionInfo{
					Ranked: []types.AttentionEntry{
						{Filename: "scan_002.dcm", Score: 0.9},
						{Filename: "scan_001.dcm", Score: 0.4},
					},
					TotalFiles:    3,
					ReturnedFiles: 2,
				},
			}, nil
		},
		fetch: func(ctx context.Context, url string) ([]byte, error) {
			return resultArchive, nil
		},
	}
}

// runCompletedSession drives a session through the full pipeline.
func runCompletedSession(t *testing.T, env *testEnv) uuid.UUID {
	t.Helper()
	sessionID := uuid.New()
	if _, err := env.predictService(happyModel(t)).Run(context.Background(), sessionID, testUploadArchive(t)); err != nil {
		t.Fatalf("pipeline Run: %v", err)
	}
	return sessionID
}
