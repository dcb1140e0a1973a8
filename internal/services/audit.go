package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lcrd-backend/internal/artifacts"
	"lcrd-backend/internal/platform/apierr"
	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/repos"
)

// DriftReport describes disagreement between the registry and the artifact
// trees. The two are kept consistent only by pipeline ordering, so drift can
// accumulate after crashes; this audit makes the invariant checkable.
type DriftReport struct {
	// OrphanDirs are artifact directories with no registry row. They are
	// unreachable and invisible to the reaper.
	OrphanDirs []OrphanDir `json:"orphan_dirs"`
	// MissingDirs are registry rows whose session has no artifact directory
	// on either side. Reported only: the prediction row may still serve
	// reads, so removal is a human decision.
	MissingDirs []uuid.UUID `json:"missing_dirs"`
	// Removed lists orphan directories deleted by a repair run.
	Removed []string `json:"removed,omitempty"`
}

type OrphanDir struct {
	SessionID string         `json:"session_id"`
	Kind      artifacts.Kind `json:"kind"`
}

type AuditService interface {
	Scan(ctx context.Context, repair bool) (*DriftReport, error)
}

type auditService struct {
	db          *gorm.DB
	log         *logger.Logger
	sessionRepo repos.SessionRepo
	store       artifacts.Store
}

func NewAuditService(db *gorm.DB, baseLog *logger.Logger, sessionRepo repos.SessionRepo, store artifacts.Store) AuditService {
	return &auditService{
		db:          db,
		log:         baseLog.With("service", "AuditService"),
		sessionRepo: sessionRepo,
		store:       store,
	}
}

func (s *auditService) Scan(ctx context.Context, repair bool) (*DriftReport, error) {
	report := &DriftReport{OrphanDirs: []OrphanDir{}, MissingDirs: []uuid.UUID{}}

	dirIDs := map[string]bool{}
	for _, kind := range []artifacts.Kind{artifacts.KindUpload, artifacts.KindResult} {
		ids, err := s.store.SessionDirs(kind)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			dirIDs[id] = true
			sessionID, parseErr := uuid.Parse(id)
			if parseErr != nil {
				// Not a session directory; leave foreign files alone.
				continue
			}
			if _, err := s.sessionRepo.GetByID(ctx, nil, sessionID); err != nil {
				if !apierr.IsNotFound(err) {
					return nil, err
				}
				report.OrphanDirs = append(report.OrphanDirs, OrphanDir{SessionID: id, Kind: kind})
			}
		}
	}

	// Any registry row at all, regardless of age or saved flag, should have
	// at least one artifact directory.
	sessions, err := s.sessionRepo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		if !dirIDs[session.ID.String()] {
			report.MissingDirs = append(report.MissingDirs, session.ID)
		}
	}

	if repair {
		seen := map[string]bool{}
		for _, orphan := range report.OrphanDirs {
			if seen[orphan.SessionID] {
				continue
			}
			seen[orphan.SessionID] = true
			sessionID, parseErr := uuid.Parse(orphan.SessionID)
			if parseErr != nil {
				continue
			}
			for _, w := range s.store.DeleteSession(sessionID) {
				s.log.Warn("orphan removal warning", "session_id", orphan.SessionID, "warning", w)
			}
			report.Removed = append(report.Removed, orphan.SessionID)
			s.log.Info("removed orphan artifact directory", "session_id", orphan.SessionID)
		}
	}

	s.log.Info("drift audit complete",
		"orphan_dirs", len(report.OrphanDirs),
		"missing_dirs", len(report.MissingDirs),
		"removed", len(report.Removed),
	)
	return report, nil
}
