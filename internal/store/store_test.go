package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"snapseal/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Asset{}, &models.Credential{}, &models.Settings{}))
	return New(db)
}

func newAsset(id string, createdAt time.Time) *models.Asset {
	return &models.Asset{
		ID:         id,
		StorageKey: id + ".webp",
		Kind:       models.KindImage,
		MimeType:   "image/webp",
		CreatedAt:  createdAt,
		Status:     models.StatusDraft,
		Width:      800,
		Height:     600,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(newAsset("a1", time.Now())))

	got, err := s.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Equal(t, "image/webp", got.MimeType)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.Create(&models.Asset{})
	assert.Error(t, err)
}

func TestUpdateNotFoundLeavesStoreUnchanged(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(newAsset("a1", time.Now())))

	_, err := s.Update("missing", func(a *models.Asset) error {
		a.ErrorType = "network_error"
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)

	assets, err := s.List()
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "a1", assets[0].ID)
	assert.Empty(t, assets[0].ErrorType)
}

func TestUpdateMergesFullRecord(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(newAsset("a1", time.Now())))

	updated, err := s.Update("a1", func(a *models.Asset) error {
		a.Status = models.StatusUploading
		a.UploadProgress = 0.5
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploading, updated.Status)
	assert.Equal(t, 0.5, updated.UploadProgress)
	// Untouched fields survive the merge.
	assert.Equal(t, "image/webp", updated.MimeType)
	assert.Equal(t, 800, updated.Width)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{models.StatusDraft, models.StatusUploading, true},
		{models.StatusDraft, models.StatusUploaded, false},
		{models.StatusDraft, models.StatusFailed, false},
		{models.StatusUploading, models.StatusUploaded, true},
		{models.StatusUploading, models.StatusFailed, true},
		{models.StatusUploading, models.StatusDraft, false},
		{models.StatusFailed, models.StatusUploading, true},
		{models.StatusFailed, models.StatusUploaded, false},
		{models.StatusUploaded, models.StatusDraft, false},
		{models.StatusUploaded, models.StatusUploading, false},
	}
	for _, tc := range cases {
		t.Run(tc.from+"_to_"+tc.to, func(t *testing.T) {
			s := newTestStore(t)
			asset := newAsset("a1", time.Now())
			asset.Status = tc.from
			require.NoError(t, s.Create(asset))

			_, err := s.Update("a1", func(a *models.Asset) error {
				a.Status = tc.to
				return nil
			})
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				got, gerr := s.Get("a1")
				require.NoError(t, gerr)
				assert.Equal(t, tc.from, got.Status)
			}
		})
	}
}

func TestIDIsImmutable(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(newAsset("a1", time.Now())))
	_, err := s.Update("a1", func(a *models.Asset) error {
		a.ID = "a2"
		return nil
	})
	assert.Error(t, err)
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.Create(newAsset("old", base)))
	require.NoError(t, s.Create(newAsset("mid", base.Add(time.Minute))))
	require.NoError(t, s.Create(newAsset("new", base.Add(2*time.Minute))))

	assets, err := s.List()
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, "new", assets[0].ID)
	assert.Equal(t, "mid", assets[1].ID)
	assert.Equal(t, "old", assets[2].ID)
}

func TestListByStatusAndKind(t *testing.T) {
	s := newTestStore(t)
	a := newAsset("a1", time.Now())
	require.NoError(t, s.Create(a))
	b := newAsset("b1", time.Now())
	b.Status = models.StatusFailed
	b.Kind = models.KindVideo
	require.NoError(t, s.Create(b))

	failed, err := s.ListByStatus(models.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b1", failed[0].ID)

	videos, err := s.ListByKind(models.KindVideo)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "b1", videos[0].ID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(newAsset("a1", time.Now())))

	require.NoError(t, s.Delete("a1"))
	_, err := s.Get("a1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again, and deleting an id that never existed, both succeed.
	require.NoError(t, s.Delete("a1"))
	require.NoError(t, s.Delete("never-existed"))

	assets, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestRecoverStuckUploads(t *testing.T) {
	s := newTestStore(t)
	stuck := newAsset("stuck", time.Now())
	stuck.Status = models.StatusUploading
	stuck.UploadProgress = 0.7
	require.NoError(t, s.Create(stuck))
	require.NoError(t, s.Create(newAsset("fine", time.Now())))

	n, err := s.RecoverStuckUploads("network_error")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Get("stuck")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "network_error", got.ErrorType)
	assert.Zero(t, got.UploadProgress)

	fine, err := s.Get("fine")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, fine.Status)
}

func TestSettingsDefaultsAndSave(t *testing.T) {
	s := newTestStore(t)

	settings, err := s.Settings()
	require.NoError(t, err)
	assert.True(t, settings.ShowTimestamp)
	assert.Equal(t, "medium", settings.WatermarkSize)
	assert.False(t, settings.CreditsNoticeDismissed)

	settings.WatermarkSize = "large"
	settings.CreditsNoticeDismissed = true
	require.NoError(t, s.SaveSettings(settings))

	again, err := s.Settings()
	require.NoError(t, err)
	assert.Equal(t, "large", again.WatermarkSize)
	assert.True(t, again.CreditsNoticeDismissed)
}
