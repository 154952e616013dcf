package export

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"snapseal/internal/storage"
	"snapseal/internal/store"
)

// Write streams a tar.zst bundle of all locally retained assets: a JSON
// manifest of the records plus their image blobs. Useful as a backup of
// the queue before the records reach the remote service.
func Write(w io.Writer, st *store.Store, blobs storage.Storage) error {
	log := logrus.WithField("component", "export")

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	tw := tar.NewWriter(zw)

	assets, err := st.List()
	if err != nil {
		return fmt.Errorf("export: listing assets: %w", err)
	}

	manifest, err := json.MarshalIndent(assets, "", "  ")
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	now := time.Now()
	if err := tw.WriteHeader(&tar.Header{
		Name:    "manifest.json",
		Mode:    0644,
		Size:    int64(len(manifest)),
		ModTime: now,
	}); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	for _, asset := range assets {
		size, err := blobs.Size(asset.StorageKey)
		if err != nil {
			log.WithError(err).WithField("asset_id", asset.ID).Warn("skipping asset with missing blob")
			continue
		}
		r, err := blobs.Reader(asset.StorageKey)
		if err != nil {
			log.WithError(err).WithField("asset_id", asset.ID).Warn("skipping unreadable blob")
			continue
		}
		herr := tw.WriteHeader(&tar.Header{
			Name:    "blobs/" + asset.StorageKey,
			Mode:    0644,
			Size:    size,
			ModTime: asset.CreatedAt,
		})
		if herr == nil {
			_, herr = io.Copy(tw, r)
		}
		r.Close()
		if herr != nil {
			return fmt.Errorf("export: writing blob for %s: %w", asset.ID, herr)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return zw.Close()
}
