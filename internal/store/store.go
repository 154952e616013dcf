package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"snapseal/internal/models"
)

var (
	// ErrNotFound is returned when no asset exists for the given id.
	ErrNotFound = errors.New("asset not found")
	// ErrInvalidTransition is returned when an update tries to move an
	// asset along a status edge the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the single source of truth for in-flight assets. All updates
// are read-modify-write against the full record inside a transaction, so
// a caller never observes a half-merged record.
type Store struct {
	db  *gorm.DB
	log *logrus.Entry
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, log: logrus.WithField("component", "store")}
}

// Create inserts a new asset record. The id must be set by the caller and
// is immutable afterwards.
func (s *Store) Create(asset *models.Asset) error {
	if asset.ID == "" {
		return fmt.Errorf("create: asset id is required")
	}
	if asset.Status == "" {
		asset.Status = models.StatusDraft
	}
	if err := s.db.Create(asset).Error; err != nil {
		return fmt.Errorf("create asset %s: %w", asset.ID, err)
	}
	s.log.WithFields(logrus.Fields{"asset_id": asset.ID, "kind": asset.Kind}).Debug("created asset")
	return nil
}

// Get returns the asset for id, or ErrNotFound.
func (s *Store) Get(id string) (*models.Asset, error) {
	var asset models.Asset
	if err := s.db.First(&asset, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &asset, nil
}

// Update loads the record for id, applies mutate to the full record, and
// persists the result atomically. It fails with ErrNotFound when no record
// exists; it never creates one. Status changes are checked against the
// lifecycle edges and rejected with ErrInvalidTransition.
func (s *Store) Update(id string, mutate func(*models.Asset) error) (*models.Asset, error) {
	var updated models.Asset
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var asset models.Asset
		if err := tx.First(&asset, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		prevStatus := asset.Status
		if err := mutate(&asset); err != nil {
			return err
		}
		if asset.ID != id {
			return fmt.Errorf("update %s: asset id is immutable", id)
		}
		if asset.Status != prevStatus && !models.CanTransition(prevStatus, asset.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prevStatus, asset.Status)
		}
		if err := tx.Save(&asset).Error; err != nil {
			return err
		}
		updated = asset
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// List returns all assets ordered by creation time, newest first.
func (s *Store) List() ([]models.Asset, error) {
	var assets []models.Asset
	err := s.db.Order("created_at DESC").Find(&assets).Error
	return assets, err
}

// ListByStatus returns assets with the given status, newest first.
func (s *Store) ListByStatus(status string) ([]models.Asset, error) {
	var assets []models.Asset
	err := s.db.Where("status = ?", status).Order("created_at DESC").Find(&assets).Error
	return assets, err
}

// ListByKind returns assets of the given kind, newest first.
func (s *Store) ListByKind(kind string) ([]models.Asset, error) {
	var assets []models.Asset
	err := s.db.Where("kind = ?", kind).Order("created_at DESC").Find(&assets).Error
	return assets, err
}

// Delete removes the record for id. Deleting a nonexistent id is not an
// error.
func (s *Store) Delete(id string) error {
	return s.db.Delete(&models.Asset{}, "id = ?", id).Error
}

// RecoverStuckUploads moves assets left in uploading by a crash back to
// failed with a network_error classification, so the user can retry them.
// Returns the number of recovered records.
func (s *Store) RecoverStuckUploads(errorType string) (int64, error) {
	result := s.db.Model(&models.Asset{}).
		Where("status = ?", models.StatusUploading).
		Updates(map[string]interface{}{
			"status":          models.StatusFailed,
			"error_type":      errorType,
			"upload_progress": 0,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.WithField("count", result.RowsAffected).Info("recovered stuck uploads")
	}
	return result.RowsAffected, nil
}

// Settings returns the persisted settings row, creating defaults on first
// access.
func (s *Store) Settings() (*models.Settings, error) {
	var settings models.Settings
	err := s.db.First(&settings, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = models.DefaultSettings()
		if err := s.db.Create(&settings).Error; err != nil {
			return nil, err
		}
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSettings persists the settings row.
func (s *Store) SaveSettings(settings *models.Settings) error {
	settings.ID = 1
	return s.db.Save(settings).Error
}
