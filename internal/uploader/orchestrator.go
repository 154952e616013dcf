package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"snapseal/internal/attest"
	"snapseal/internal/models"
	"snapseal/internal/storage"
	"snapseal/internal/store"
)

var (
	// ErrAlreadyUploading is returned when a submission is requested for
	// an asset that already has one in flight. The second request is
	// rejected, not queued.
	ErrAlreadyUploading = errors.New("uploader: upload already in flight")
	// ErrNotUploadable is returned when the asset is not in draft or
	// failed.
	ErrNotUploadable = errors.New("uploader: asset not in an uploadable state")
	// ErrNotAuthenticated is returned when no credential is present. No
	// transition is written and no request is sent.
	ErrNotAuthenticated = errors.New("uploader: not authenticated")
)

// credentials is the slice of the session manager the orchestrator needs.
type credentials interface {
	Token() string
	Invalidate()
}

// submitter is the slice of the attest client the orchestrator needs.
type submitter interface {
	SubmitAsset(ctx context.Context, token string, sub attest.Submission, onProgress func(float64)) (*attest.SubmitResult, error)
}

// Orchestrator drives assets through remote submission: it admits at most
// one active upload per asset id, transitions status, records progress,
// classifies failures, and removes local records once the remote service
// is authoritative.
type Orchestrator struct {
	store   *store.Store
	blobs   storage.Storage
	client  submitter
	creds   credentials
	timeout time.Duration
	// retention is how long an uploaded record lingers before deletion so
	// the control API can surface the verified state once.
	retention time.Duration
	log       *logrus.Entry

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(st *store.Store, blobs storage.Storage, client submitter, creds credentials, timeout, retention time.Duration) *Orchestrator {
	return &Orchestrator{
		store:     st,
		blobs:     blobs,
		client:    client,
		creds:     creds,
		timeout:   timeout,
		retention: retention,
		log:       logrus.WithField("component", "uploader"),
		inflight:  make(map[string]struct{}),
	}
}

// prepared is an admitted submission: the inflight slot is held and the
// uploading transition has been written. perform must always run to
// release the slot and record the outcome.
type prepared struct {
	id         string
	storageKey string
	token      string
	blob       io.ReadCloser
	sub        attest.Submission
}

// Submit uploads the asset with the given id and blocks until the outcome
// is recorded. Preconditions: the asset exists, is in draft or failed, no
// upload for it is in flight, and a credential is present — violations are
// hard errors and leave the record untouched. Once admitted, the outcome
// is always written back as a status transition: uploaded (then deleted
// after the retention window) or failed with a classified errorType.
func (o *Orchestrator) Submit(ctx context.Context, id string) error {
	p, err := o.prepare(id)
	if err != nil {
		return err
	}
	return o.perform(ctx, p)
}

// Enqueue runs the same preconditions and transition as Submit
// synchronously, then continues the transfer in the background. A caller
// that needs the admission verdict without waiting for the transfer uses
// this.
func (o *Orchestrator) Enqueue(id string) error {
	p, err := o.prepare(id)
	if err != nil {
		return err
	}
	go func() {
		if err := o.perform(context.Background(), p); err != nil {
			o.log.WithError(err).WithField("asset_id", id).Debug("background upload resolved with error")
		}
	}()
	return nil
}

// prepare admits a submission: checks preconditions, acquires the per-id
// slot, opens the blob, and writes the uploading transition.
func (o *Orchestrator) prepare(id string) (*prepared, error) {
	o.mu.Lock()
	if _, busy := o.inflight[id]; busy {
		o.mu.Unlock()
		return nil, ErrAlreadyUploading
	}
	o.inflight[id] = struct{}{}
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		delete(o.inflight, id)
		o.mu.Unlock()
	}

	asset, err := o.store.Get(id)
	if err != nil {
		release()
		return nil, err
	}
	if asset.Status != models.StatusDraft && asset.Status != models.StatusFailed {
		release()
		return nil, fmt.Errorf("%w: %s", ErrNotUploadable, asset.Status)
	}

	token := o.creds.Token()
	if token == "" {
		release()
		return nil, ErrNotAuthenticated
	}

	blob, err := o.blobs.Reader(asset.StorageKey)
	if err != nil {
		release()
		return nil, fmt.Errorf("uploader: reading asset blob: %w", err)
	}
	size, err := o.blobs.Size(asset.StorageKey)
	if err != nil {
		blob.Close()
		release()
		return nil, fmt.Errorf("uploader: sizing asset blob: %w", err)
	}

	if _, err := o.store.Update(id, func(a *models.Asset) error {
		a.Status = models.StatusUploading
		a.UploadProgress = 0
		a.ErrorType = ""
		return nil
	}); err != nil {
		blob.Close()
		release()
		return nil, err
	}

	return &prepared{
		id:         id,
		storageKey: asset.StorageKey,
		token:      token,
		blob:       blob,
		sub: attest.Submission{
			Image:       blob,
			Size:        size,
			Filename:    asset.ID + extensionFor(asset.MimeType),
			MimeType:    asset.MimeType,
			Kind:        asset.Kind,
			Timestamp:   asset.CreatedAt,
			Latitude:    asset.Latitude,
			Longitude:   asset.Longitude,
			Accuracy:    asset.Accuracy,
			SourceURL:   asset.SourceURL,
			SourceTitle: asset.SourceTitle,
		},
	}, nil
}

// perform runs the transfer and records the outcome, releasing the
// admission slot when done.
func (o *Orchestrator) perform(ctx context.Context, p *prepared) error {
	defer func() {
		o.mu.Lock()
		delete(o.inflight, p.id)
		o.mu.Unlock()
	}()
	defer p.blob.Close()

	uploadCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	result, err := o.client.SubmitAsset(uploadCtx, p.token, p.sub, o.progressWriter(p.id))
	if err != nil {
		return o.recordFailure(p.id, err)
	}

	now := time.Now()
	if _, err := o.store.Update(p.id, func(a *models.Asset) error {
		a.Status = models.StatusUploaded
		a.UploadProgress = 1
		a.RemoteID = result.NID
		a.UploadedAt = &now
		return nil
	}); err != nil {
		return err
	}
	o.log.WithFields(logrus.Fields{"asset_id": p.id, "nid": result.NID}).Info("asset verified remotely")

	o.scheduleRemoval(p.id, p.storageKey)
	return nil
}

// recordFailure classifies err, writes the failed transition, and applies
// the class's credential policy. Local faults that slip past the
// preconditions are treated as network failures so the record stays
// retryable.
func (o *Orchestrator) recordFailure(id string, err error) error {
	errorType := attest.ErrorTypeNetwork
	if apiErr, ok := attest.AsAPIError(err); ok {
		errorType = apiErr.Type
	}

	if _, uerr := o.store.Update(id, func(a *models.Asset) error {
		a.Status = models.StatusFailed
		a.UploadProgress = 0
		a.ErrorType = string(errorType)
		return nil
	}); uerr != nil {
		o.log.WithError(uerr).WithField("asset_id", id).Error("could not record upload failure")
	}

	switch errorType {
	case attest.ErrorTypeAuth:
		o.creds.Invalidate()
	case attest.ErrorTypeQuota:
		// Resurface the credits notice even if a previous one was
		// dismissed.
		if settings, serr := o.store.Settings(); serr == nil && settings.CreditsNoticeDismissed {
			settings.CreditsNoticeDismissed = false
			if serr := o.store.SaveSettings(settings); serr != nil {
				o.log.WithError(serr).Warn("could not reset credits notice")
			}
		}
	}

	o.log.WithFields(logrus.Fields{"asset_id": id, "error_type": errorType}).Warn("upload failed")
	return err
}

// progressWriter persists transfer progress so a single in-flight upload
// can be observed without polling the network layer. Writes are throttled
// to 5% increments.
func (o *Orchestrator) progressWriter(id string) func(float64) {
	var last float64
	return func(p float64) {
		if p < 1 && p-last < 0.05 {
			return
		}
		last = p
		if _, err := o.store.Update(id, func(a *models.Asset) error {
			a.UploadProgress = p
			return nil
		}); err != nil {
			o.log.WithError(err).WithField("asset_id", id).Debug("could not record progress")
		}
	}
}

// scheduleRemoval deletes the local record and blob once the retention
// window has passed; the remote dashboard is the permanent record.
func (o *Orchestrator) scheduleRemoval(id, storageKey string) {
	remove := func() {
		if err := o.store.Delete(id); err != nil {
			o.log.WithError(err).WithField("asset_id", id).Warn("could not delete uploaded record")
			return
		}
		if err := o.blobs.Delete(storageKey); err != nil {
			o.log.WithError(err).WithField("asset_id", id).Warn("could not delete uploaded blob")
		}
	}
	if o.retention <= 0 {
		remove()
		return
	}
	time.AfterFunc(o.retention, remove)
}

// Recover returns assets stranded in uploading by a crash to failed with a
// network classification so the user can retry them.
func (o *Orchestrator) Recover() error {
	_, err := o.store.RecoverStuckUploads(string(attest.ErrorTypeNetwork))
	return err
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/webp":
		return ".webp"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ""
	}
}
