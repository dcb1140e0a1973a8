package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lcrd-backend/internal/artifacts"
	"lcrd-backend/internal/platform/apierr"
	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/repos"
	"lcrd-backend/internal/types"
)

// PromoteInput carries the clinical data attached to a session at promotion.
type PromoteInput struct {
	SessionID  uuid.UUID `json:"session_id"`
	ExternalID string    `json:"external_id"`
	FullName   string    `json:"full_name"`
	Age        int       `json:"age"`
	Sex        string    `json:"sex"`
	Address    string    `json:"address"`
	Diagnosis  string    `json:"diagnosis"`
	Conclusion string    `json:"conclusion"`
}

// PatientView decorates a patient row with the artifact listings for its
// session, including the read-path diagnostics.
type PatientView struct {
	Patient *types.PatientRecord `json:"patient"`
	Uploads *artifacts.Listing   `json:"uploads"`
	Results *artifacts.Listing   `json:"results"`
}

type PatientService interface {
	Promote(ctx context.Context, input PromoteInput) (*types.PatientRecord, error)
	Get(ctx context.Context, id uuid.UUID) (*PatientView, error)
	List(ctx context.Context) ([]*PatientView, error)
	Update(ctx context.Context, id uuid.UUID, input PromoteInput) (*types.PatientRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type patientService struct {
	db             *gorm.DB
	log            *logger.Logger
	sessionRepo    repos.SessionRepo
	predictionRepo repos.PredictionRepo
	patientRepo    repos.PatientRepo
	store          artifacts.Store
}

func NewPatientService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.SessionRepo,
	predictionRepo repos.PredictionRepo,
	patientRepo repos.PatientRepo,
	store artifacts.Store,
) PatientService {
	serviceLog := baseLog.With("service", "PatientService")
	return &patientService{
		db:             db,
		log:            serviceLog,
		sessionRepo:    sessionRepo,
		predictionRepo: predictionRepo,
		patientRepo:    patientRepo,
		store:          store,
	}
}

// Promote attaches a completed session to a new patient record and flips the
// session's saved flag, all in one transaction, so an expiry sweep either
// sees the session unsaved (and may reap it before promotion commits) or
// saved with its patient attached.
func (s *patientService) Promote(ctx context.Context, input PromoteInput) (*types.PatientRecord, error) {
	if input.SessionID == uuid.Nil {
		return nil, apierr.InvalidArgument(fmt.Errorf("session_id required"))
	}
	if input.FullName == "" {
		return nil, apierr.InvalidArgument(fmt.Errorf("full_name required"))
	}

	var created *types.PatientRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.sessionRepo.GetByID(ctx, tx, input.SessionID); err != nil {
			return err
		}
		prediction, err := s.predictionRepo.GetBySessionID(ctx, tx, input.SessionID)
		if err != nil {
			return err
		}
		if _, err := s.patientRepo.GetBySessionID(ctx, tx, input.SessionID); err == nil {
			return apierr.Conflict(fmt.Errorf("session %s is already attached to a patient", input.SessionID))
		} else if !apierr.IsNotFound(err) {
			return err
		}

		record := &types.PatientRecord{
			ExternalID:   input.ExternalID,
			FullName:     input.FullName,
			Age:          input.Age,
			Sex:          input.Sex,
			Address:      input.Address,
			Diagnosis:    input.Diagnosis,
			Conclusion:   input.Conclusion,
			SessionID:    input.SessionID,
			PredictionID: prediction.ID,
		}
		created, err = s.patientRepo.Create(ctx, tx, record)
		if err != nil {
			return err
		}
		if _, err := s.sessionRepo.MarkSaved(ctx, tx, input.SessionID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("session promoted", "session_id", input.SessionID, "patient_id", created.ID)
	return created, nil
}

func (s *patientService) Get(ctx context.Context, id uuid.UUID) (*PatientView, error) {
	patient, err := s.patientRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return s.view(patient), nil
}

func (s *patientService) List(ctx context.Context) ([]*PatientView, error) {
	patients, err := s.patientRepo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	views := make([]*PatientView, 0, len(patients))
	for _, p := range patients {
		views = append(views, s.view(p))
	}
	return views, nil
}

func (s *patientService) view(p *types.PatientRecord) *PatientView {
	return &PatientView{
		Patient: p,
		Uploads: s.store.ListFiles(p.SessionID, artifacts.KindUpload),
		Results: s.store.ListFiles(p.SessionID, artifacts.KindResult),
	}
}

func (s *patientService) Update(ctx context.Context, id uuid.UUID, input PromoteInput) (*types.PatientRecord, error) {
	existing, err := s.patientRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	existing.ExternalID = input.ExternalID
	existing.FullName = input.FullName
	existing.Age = input.Age
	existing.Sex = input.Sex
	existing.Address = input.Address
	existing.Diagnosis = input.Diagnosis
	existing.Conclusion = input.Conclusion
	return s.patientRepo.Update(ctx, nil, existing)
}

// Delete removes the patient and cascades: prediction row, session row, then
// both artifact subtrees. The database rows go first inside one transaction;
// artifact removal follows and is best-effort, with failures logged (the
// drift audit catches leftover directories).
func (s *patientService) Delete(ctx context.Context, id uuid.UUID) error {
	patient, err := s.patientRepo.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.patientRepo.Delete(ctx, tx, patient.ID); err != nil {
			return err
		}
		if err := s.predictionRepo.DeleteBySessionID(ctx, tx, patient.SessionID); err != nil {
			return err
		}
		return s.sessionRepo.Delete(ctx, tx, patient.SessionID)
	})
	if err != nil {
		return err
	}

	for _, w := range s.store.DeleteSession(patient.SessionID) {
		s.log.Warn("cascade delete artifact warning", "session_id", patient.SessionID, "warning", w)
	}
	s.log.Info("patient deleted", "patient_id", patient.ID, "session_id", patient.SessionID)
	return nil
}
