package models

import (
	"time"
)

// Asset lifecycle states
const (
	StatusDraft     = "draft"
	StatusUploading = "uploading"
	StatusUploaded  = "uploaded"
	StatusFailed    = "failed"
)

// Asset kinds
const (
	KindImage = "image"
	KindVideo = "video"
)

// transitions lists the legal status edges. uploaded is terminal; the
// record is deleted shortly after reaching it.
var transitions = map[string][]string{
	StatusDraft:     {StatusUploading},
	StatusUploading: {StatusUploaded, StatusFailed},
	StatusFailed:    {StatusUploading},
	StatusUploaded:  {},
}

// CanTransition reports whether status may move from -> to.
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Asset is one locally tracked capture record, from draft through upload
// resolution. ID is assigned at creation and never changes. The lifecycle
// fields (UploadProgress, ErrorType, RemoteID, UploadedAt) replace the
// loose metadata mapping of earlier designs with typed columns.
type Asset struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	StorageKey string    `json:"-"`
	Kind       string    `gorm:"index" json:"kind"`
	MimeType   string    `json:"mime_type"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Status string `gorm:"index" json:"status"`

	// In-flight / outcome fields, meaningful per status.
	UploadProgress float64    `json:"upload_progress"`
	ErrorType      string     `json:"error_type,omitempty"`
	RemoteID       string     `json:"nid,omitempty"`
	UploadedAt     *time.Time `json:"uploaded_at,omitempty"`

	Width  int `json:"width"`
	Height int `json:"height"`

	// Captured once at creation, never mutated.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`

	SourceURL   string `json:"source_url,omitempty"`
	SourceTitle string `json:"source_title,omitempty"`
}

// Credential is the persisted session: a bearer token plus the cached
// profile snapshot. A single row (ID=1) exists at most.
type Credential struct {
	ID       uint `gorm:"primaryKey"`
	Token    string
	Email    string
	Username string
}

// Settings is the persisted per-user configuration, a single row (ID=1).
type Settings struct {
	ID uint `gorm:"primaryKey" json:"-"`

	// Watermark spec applied at capture time.
	ShowTimestamp bool   `json:"show_timestamp"`
	WatermarkSize string `json:"watermark_size"` // small, medium, large

	IncludeLocation bool `json:"include_location"`
	IncludeSource   bool `json:"include_source"`
	AutoUpload      bool `json:"auto_upload"`

	// Set once the insufficient-credits notice has been dismissed; cleared
	// again when a new quota failure occurs.
	CreditsNoticeDismissed bool `json:"credits_notice_dismissed"`
}

// DefaultSettings returns the settings applied on first run.
func DefaultSettings() Settings {
	return Settings{
		ID:            1,
		ShowTimestamp: true,
		WatermarkSize: "medium",
		IncludeSource: true,
	}
}
