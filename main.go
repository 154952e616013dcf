package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"snapseal/internal/attest"
	"snapseal/internal/capture"
	"snapseal/internal/composer"
	"snapseal/internal/config"
	"snapseal/internal/handlers"
	"snapseal/internal/models"
	"snapseal/internal/session"
	"snapseal/internal/storage"
	"snapseal/internal/store"
	"snapseal/internal/uploader"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logrus.Fatal(err)
	}
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		logrus.Fatal(err)
	}
	if err := db.AutoMigrate(&models.Asset{}, &models.Credential{}, &models.Settings{}); err != nil {
		logrus.Fatal(err)
	}

	blobs := storage.NewFSStorage(cfg.BlobDir)
	st := store.New(db)

	client := attest.NewClient(cfg.APIBaseURL, cfg.UploadTimeout)
	sess := session.NewManager(db, client)
	if err := sess.Initialize(context.Background()); err != nil {
		logrus.WithError(err).Warn("session restore failed, starting unauthenticated")
	}

	orch := uploader.New(st, blobs, client, sess, cfg.UploadTimeout, cfg.UploadedRetention)
	if err := orch.Recover(); err != nil {
		logrus.WithError(err).Warn("could not recover interrupted uploads")
	}

	browser, err := capture.LaunchBrowser(cfg.MaxCapturePages)
	if err != nil {
		logrus.Fatal("Failed to launch browser: ", err)
	}
	defer browser.Close()

	capturer := capture.NewCapturer(browser, cfg.ViewportWidth, cfg.ViewportHeight)
	comp := composer.New(cfg.LogoPath)

	var geo capture.GeoProvider = capture.NoGeoProvider{}
	if cfg.GeoEnabled {
		geo = &capture.StaticGeoProvider{Location: capture.Location{
			Latitude:  cfg.GeoLatitude,
			Longitude: cfg.GeoLongitude,
			Accuracy:  cfg.GeoAccuracy,
		}}
	}

	h := handlers.New(st, blobs, capturer, comp, geo, sess, orch, cfg.VerifyBaseURL)
	h.Browser = browser

	r := gin.Default()
	h.Register(r)

	logrus.WithField("addr", cfg.ListenAddr).Info("starting control API")
	if err := r.Run(cfg.ListenAddr); err != nil {
		logrus.Fatal(err)
	}
}
