package vuforia

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TargetKind string

const (
	// KindImage targets carry an image payload and a width.
	KindImage TargetKind = "image"
	// KindTemplate targets carry template tracking data instead of a plain
	// image but share the same lifecycle.
	KindTemplate TargetKind = "template"
)

// Target is one trackable entry in a database. Image bytes are kept verbatim
// so that exact matching and duplicate detection can compare content hashes.
type Target struct {
	TargetID            string
	Name                string
	Kind                TargetKind
	ActiveFlag          bool
	Width               float64
	Image               []byte
	ImageHash           string
	ApplicationMetadata string
	TrackingRating      int
	QualityPassed       bool
	CreatedAt           time.Time
	LastModifiedAt      time.Time
	ProcessingStartedAt time.Time
	DeletedAt           *time.Time
}

// Status derives the current lifecycle status for the given moment.
func (t *Target) Status(now time.Time, processingDuration time.Duration) Status {
	return DeriveStatus(now, t.ProcessingStartedAt, processingDuration, t.QualityPassed)
}

// Deleted reports whether the target has been soft-deleted.
func (t *Target) Deleted() bool {
	return t.DeletedAt != nil
}

// DeletedWithin reports whether the target was deleted and the deletion is
// still inside the recognition grace window at the given moment.
func (t *Target) DeletedWithin(now time.Time, window time.Duration) bool {
	return t.DeletedAt != nil && now.Sub(*t.DeletedAt) < window
}

// Clone returns a deep copy. Store accessors hand out clones so that callers
// can never mutate shared state.
func (t *Target) Clone() *Target {
	cp := *t
	cp.Image = append([]byte(nil), t.Image...)
	if t.DeletedAt != nil {
		deletedAt := *t.DeletedAt
		cp.DeletedAt = &deletedAt
	}
	return &cp
}

// HashImage returns the content hash used for duplicate detection and exact
// matching.
func HashImage(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// NewID returns a 32 character lowercase hex identifier, the shape the
// emulated service uses for target IDs, access keys and transaction IDs.
func NewID() string {
	return hex.EncodeToString(uuidBytes())
}

func uuidBytes() []byte {
	id := uuid.New()
	return id[:]
}

// targetWire is the JSON shape targets travel in between the faces and the
// target manager.
type targetWire struct {
	TargetID            string     `json:"target_id"`
	Name                string     `json:"name"`
	Kind                TargetKind `json:"kind"`
	ActiveFlag          bool       `json:"active_flag"`
	Width               float64    `json:"width"`
	ImageBase64         string     `json:"image_base64"`
	ApplicationMetadata string     `json:"application_metadata"`
	TrackingRating      int        `json:"tracking_rating"`
	QualityPassed       bool       `json:"quality_passed"`
	CreatedAt           time.Time  `json:"created_at"`
	LastModifiedAt      time.Time  `json:"last_modified_at"`
	ProcessingStartedAt time.Time  `json:"processing_started_at"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
}

func (t *Target) MarshalJSON() ([]byte, error) {
	return json.Marshal(targetWire{
		TargetID:            t.TargetID,
		Name:                t.Name,
		Kind:                t.Kind,
		ActiveFlag:          t.ActiveFlag,
		Width:               t.Width,
		ImageBase64:         base64.StdEncoding.EncodeToString(t.Image),
		ApplicationMetadata: t.ApplicationMetadata,
		TrackingRating:      t.TrackingRating,
		QualityPassed:       t.QualityPassed,
		CreatedAt:           t.CreatedAt,
		LastModifiedAt:      t.LastModifiedAt,
		ProcessingStartedAt: t.ProcessingStartedAt,
		DeletedAt:           t.DeletedAt,
	})
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var wire targetWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	image, err := base64.StdEncoding.DecodeString(wire.ImageBase64)
	if err != nil {
		return err
	}
	*t = Target{
		TargetID:            wire.TargetID,
		Name:                wire.Name,
		Kind:                wire.Kind,
		ActiveFlag:          wire.ActiveFlag,
		Width:               wire.Width,
		Image:               image,
		ImageHash:           HashImage(image),
		ApplicationMetadata: wire.ApplicationMetadata,
		TrackingRating:      wire.TrackingRating,
		QualityPassed:       wire.QualityPassed,
		CreatedAt:           wire.CreatedAt,
		LastModifiedAt:      wire.LastModifiedAt,
		ProcessingStartedAt: wire.ProcessingStartedAt,
		DeletedAt:           wire.DeletedAt,
	}
	return nil
}
