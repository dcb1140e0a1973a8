package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"lcrd-backend/internal/artifacts"
	"lcrd-backend/internal/gateway"
	"lcrd-backend/internal/platform/apierr"
	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/repos"
	"lcrd-backend/internal/types"
)

// ModelGateway is the outbound boundary to the inference service.
// *gateway.Client satisfies it; tests substitute fakes.
type ModelGateway interface {
	Predict(ctx context.Context, archive []byte) (*gateway.PredictResponse, error)
	FetchArtifact(ctx context.Context, url string) ([]byte, error)
}

// PredictResult is what a completed pipeline run hands to the HTTP layer.
type PredictResult struct {
	SessionID     uuid.UUID
	Predictions   [][]float64
	AttentionInfo *types.AttentionInfo
	Images        []string
	Gif           string
}

// SessionDetail is the read-path view of one session, with artifact listing
// diagnostics attached rather than thrown.
type SessionDetail struct {
	Session    *types.Session          `json:"session"`
	Prediction *types.PredictionRecord `json:"prediction,omitempty"`
	Uploads    *artifacts.Listing      `json:"uploads"`
	Results    *artifacts.Listing      `json:"results"`
}

type PredictService interface {
	Run(ctx context.Context, sessionID uuid.UUID, archive []byte) (*PredictResult, error)
	SessionDetail(ctx context.Context, sessionID uuid.UUID) (*SessionDetail, error)
}

type predictService struct {
	db             *gorm.DB
	log            *logger.Logger
	sessionRepo    repos.SessionRepo
	predictionRepo repos.PredictionRepo
	store          artifacts.Store
	model          ModelGateway
}

func NewPredictService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.SessionRepo,
	predictionRepo repos.PredictionRepo,
	store artifacts.Store,
	model ModelGateway,
) PredictService {
	serviceLog := baseLog.With("service", "PredictService")
	return &predictService{
		db:             db,
		log:            serviceLog,
		sessionRepo:    sessionRepo,
		predictionRepo: predictionRepo,
		store:          store,
		model:          model,
	}
}

// Run drives one session through the pipeline:
//
//	register -> stage upload -> predict -> materialize results -> persist record
//
// The steps hit three different systems (database, filesystem, network) and
// are not transactional; each failed step undoes what the earlier steps
// created so no orphan registry row survives a failed run.
func (ps *predictService) Run(ctx context.Context, sessionID uuid.UUID, archive []byte) (*PredictResult, error) {
	if _, err := ps.sessionRepo.Create(ctx, nil, sessionID); err != nil {
		// Nothing was written yet; an id collision fails the whole request.
		return nil, err
	}

	if _, err := ps.store.StageUpload(ctx, sessionID, archive); err != nil {
		ps.log.Warn("staging failed", "session_id", sessionID, "error", err)
		ps.compensate(ctx, sessionID, artifacts.KindUpload, artifacts.KindResult)
		return nil, err
	}

	resp, err := ps.model.Predict(ctx, archive)
	if err != nil {
		// No retry path exists, so the staged upload is unreachable without a
		// registry row and gets removed along with it.
		ps.log.Warn("gateway predict failed", "session_id", sessionID, "error", err)
		ps.compensate(ctx, sessionID, artifacts.KindUpload, artifacts.KindResult)
		return nil, err
	}

	manifest, err := ps.materialize(ctx, sessionID, resp)
	if err != nil {
		// The upload is valid input and is left for the reaper/audit to
		// reclaim; the registry row and partial results go now.
		ps.log.Warn("materialization failed", "session_id", sessionID, "error", err)
		ps.compensate(ctx, sessionID, artifacts.KindResult)
		return nil, err
	}

	rec, err := ps.buildRecord(sessionID, resp, manifest)
	if err == nil {
		_, err = ps.predictionRepo.Create(ctx, nil, rec)
	}
	if err != nil {
		ps.log.Warn("prediction persist failed", "session_id", sessionID, "error", err)
		ps.compensate(ctx, sessionID, artifacts.KindResult)
		return nil, err
	}

	ps.log.Info("prediction session completed",
		"session_id", sessionID,
		"images", len(manifest.Images),
		"gif", manifest.Gif != "",
	)
	return &PredictResult{
		SessionID:     sessionID,
		Predictions:   resp.Predictions,
		AttentionInfo: resp.AttentionInfo,
		Images:        manifest.Images,
		Gif:           manifest.Gif,
	}, nil
}

// materialize fetches model output and lands it in the result tree. A result
// archive link is preferred; otherwise each overlay is downloaded, a few in
// flight at a time.
func (ps *predictService) materialize(ctx context.Context, sessionID uuid.UUID, resp *gateway.PredictResponse) (*artifacts.ResultManifest, error) {
	var payload artifacts.ResultPayload

	if resp.ResultArchiveLink != "" {
		raw, err := ps.model.FetchArtifact(ctx, resp.ResultArchiveLink)
		if err != nil {
			return nil, err
		}
		payload.Archive = raw
	} else {
		files := make([]artifacts.ResultFile, len(resp.OverlayImages))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for i, img := range resp.OverlayImages {
			g.Go(func() error {
				raw, err := ps.model.FetchArtifact(gctx, img.DownloadLink)
				if err != nil {
					return err
				}
				files[i] = artifacts.ResultFile{Name: "images/" + img.Filename, Data: raw}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		payload.Files = files
	}

	return ps.store.MaterializeResults(ctx, sessionID, payload)
}

func (ps *predictService) buildRecord(sessionID uuid.UUID, resp *gateway.PredictResponse, manifest *artifacts.ResultManifest) (*types.PredictionRecord, error) {
	predictions, err := json.Marshal(resp.Predictions)
	if err != nil {
		return nil, fmt.Errorf("encode predictions: %w", err)
	}
	images, err := json.Marshal(manifest.Images)
	if err != nil {
		return nil, fmt.Errorf("encode image manifest: %w", err)
	}
	rec := &types.PredictionRecord{
		SessionID:   sessionID,
		Predictions: predictions,
		Images:      images,
		GifFile:     manifest.Gif,
	}
	if resp.AttentionInfo != nil {
		attention, err := json.Marshal(resp.AttentionInfo)
		if err != nil {
			return nil, fmt.Errorf("encode attention info: %w", err)
		}
		rec.AttentionInfo = attention
	}
	return rec, nil
}

// compensate deletes the registry row plus the named artifact subtrees.
// Compensation is best-effort: its own failures are logged, never returned,
// so the original pipeline error stays the one the caller sees.
func (ps *predictService) compensate(ctx context.Context, sessionID uuid.UUID, kinds ...artifacts.Kind) {
	if err := ps.sessionRepo.Delete(ctx, nil, sessionID); err != nil {
		ps.log.Error("compensation failed to delete session row", "session_id", sessionID, "error", err)
	}
	for _, kind := range kinds {
		for _, w := range ps.store.DeleteKind(sessionID, kind) {
			ps.log.Warn("compensation artifact removal warning", "session_id", sessionID, "warning", w)
		}
	}
}

func (ps *predictService) SessionDetail(ctx context.Context, sessionID uuid.UUID) (*SessionDetail, error) {
	session, err := ps.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}

	detail := &SessionDetail{
		Session: session,
		Uploads: ps.store.ListFiles(sessionID, artifacts.KindUpload),
		Results: ps.store.ListFiles(sessionID, artifacts.KindResult),
	}
	// A session without a persisted prediction is a valid state; a failed
	// read is not and must not masquerade as one.
	rec, err := ps.predictionRepo.GetBySessionID(ctx, nil, sessionID)
	switch {
	case err == nil:
		detail.Prediction = rec
	case apierr.IsNotFound(err):
	default:
		return nil, fmt.Errorf("load prediction for session %s: %w", sessionID, err)
	}
	return detail, nil
}
