// Package store owns the authoritative in-memory collection of databases and
// targets shared by both protocol faces. Mutations on one database are
// serialized by a per-database lock; different databases proceed in parallel.
package store

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"vumock/internal/rate"
	"vumock/internal/vuforia"
)

var (
	ErrDatabaseNotFound = errors.New("store: database not found")
	ErrDatabaseConflict = errors.New("store: database name or key already in use")
	ErrTargetNotFound   = errors.New("store: target not found")
	ErrNameConflict     = errors.New("store: target name already in use")
)

// ValidationError marks malformed fields on create/update requests.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("store: invalid %s: %s", e.Field, e.Reason)
}

const maxMetadataBytes = 1024*1024 - 1

// Store is the single source of truth behind the target manager service.
type Store struct {
	mu        sync.RWMutex
	databases map[string]*databaseEntry

	rater     rate.Rater
	predicate rate.QualityPredicate
	// Deleted targets stay internally resolvable for this long, then are
	// pruned on the next read that touches their database.
	graceWindow time.Duration
	now         func() time.Time
}

type databaseEntry struct {
	mu       sync.Mutex
	database *vuforia.Database
}

func New(rater rate.Rater, predicate rate.QualityPredicate, graceWindow time.Duration) *Store {
	if predicate == nil {
		predicate = rate.AlwaysPass
	}
	return &Store{
		databases:   map[string]*databaseEntry{},
		rater:       rater,
		predicate:   predicate,
		graceWindow: graceWindow,
		now:         time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// CreateDatabase registers a database. Supplied zero values get random keys
// and the WORKING state. Names and all four keys must be unique across the
// whole store.
func (s *Store) CreateDatabase(database *vuforia.Database) (*vuforia.Database, error) {
	fresh := vuforia.NewDatabase(database.Name, database.State)
	if database.ServerAccessKey != "" {
		fresh.ServerAccessKey = database.ServerAccessKey
	}
	if database.ServerSecretKey != "" {
		fresh.ServerSecretKey = database.ServerSecretKey
	}
	if database.ClientAccessKey != "" {
		fresh.ClientAccessKey = database.ClientAccessKey
	}
	if database.ClientSecretKey != "" {
		fresh.ClientSecretKey = database.ClientSecretKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.databases {
		existing := entry.database
		if existing.Name == fresh.Name ||
			existing.ServerAccessKey == fresh.ServerAccessKey ||
			existing.ServerSecretKey == fresh.ServerSecretKey ||
			existing.ClientAccessKey == fresh.ClientAccessKey ||
			existing.ClientSecretKey == fresh.ClientSecretKey {
			return nil, ErrDatabaseConflict
		}
	}
	s.databases[fresh.Name] = &databaseEntry{database: fresh}
	return fresh.Clone(), nil
}

// DeleteDatabase removes a database and all its targets immediately. There is
// no grace window at the database level.
func (s *Store) DeleteDatabase(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.databases[name]; !ok {
		return ErrDatabaseNotFound
	}
	delete(s.databases, name)
	return nil
}

// ListDatabases returns deep copies of every database, with expired deleted
// targets pruned.
func (s *Store) ListDatabases() []*vuforia.Database {
	s.mu.RLock()
	entries := make([]*databaseEntry, 0, len(s.databases))
	for _, entry := range s.databases {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	databases := make([]*vuforia.Database, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		s.pruneLocked(entry.database)
		databases = append(databases, entry.database.Clone())
		entry.mu.Unlock()
	}
	sort.Slice(databases, func(i, j int) bool { return databases[i].Name < databases[j].Name })
	return databases
}

// GetDatabase returns a deep copy of one database.
func (s *Store) GetDatabase(name string) (*vuforia.Database, error) {
	entry, err := s.entry(name)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	s.pruneLocked(entry.database)
	return entry.database.Clone(), nil
}

// CreateTargetParams carries the validated fields of a create request.
type CreateTargetParams struct {
	Name                string
	Kind                vuforia.TargetKind
	Width               float64
	Image               []byte
	ActiveFlag          bool
	ApplicationMetadata string
}

// CreateTarget adds a target and starts its processing window. The name must
// be free among non-deleted targets; the rating and the quality verdict are
// decided here, once, by the configured strategies.
func (s *Store) CreateTarget(databaseName string, params CreateTargetParams) (*vuforia.Target, error) {
	if err := validateParams(params.Width, params.ApplicationMetadata); err != nil {
		return nil, err
	}
	entry, err := s.entry(databaseName)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	s.pruneLocked(entry.database)
	if _, exists := entry.database.TargetByName(params.Name); exists {
		return nil, ErrNameConflict
	}

	now := s.now().UTC()
	kind := params.Kind
	if kind == "" {
		kind = vuforia.KindImage
	}
	target := &vuforia.Target{
		TargetID:            vuforia.NewID(),
		Name:                params.Name,
		Kind:                kind,
		ActiveFlag:          params.ActiveFlag,
		Width:               params.Width,
		Image:               append([]byte(nil), params.Image...),
		ImageHash:           vuforia.HashImage(params.Image),
		ApplicationMetadata: params.ApplicationMetadata,
		TrackingRating:      s.rater.Rate(params.Image),
		CreatedAt:           now,
		LastModifiedAt:      now,
		ProcessingStartedAt: now,
	}
	target.QualityPassed = s.predicate(params.Image, target.TrackingRating)
	entry.database.Targets[target.TargetID] = target
	return target.Clone(), nil
}

// GetTarget returns a copy of a target. Soft-deleted targets remain
// resolvable until the grace window elapses; the caller decides whether a
// deleted-but-resolvable target is visible for its protocol.
func (s *Store) GetTarget(databaseName, targetID string) (*vuforia.Target, error) {
	entry, err := s.entry(databaseName)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	s.pruneLocked(entry.database)
	target, ok := entry.database.Targets[targetID]
	if !ok {
		return nil, ErrTargetNotFound
	}
	return target.Clone(), nil
}

// ListTargets returns copies of every target still inside its lifetime,
// including soft-deleted ones within the grace window.
func (s *Store) ListTargets(databaseName string) ([]*vuforia.Target, error) {
	entry, err := s.entry(databaseName)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	s.pruneLocked(entry.database)
	targets := make([]*vuforia.Target, 0, len(entry.database.Targets))
	for _, target := range entry.database.Targets {
		targets = append(targets, target.Clone())
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].TargetID < targets[j].TargetID })
	return targets, nil
}

// UpdateTargetParams carries the optional fields of an update request. Nil
// pointers leave the stored value untouched.
type UpdateTargetParams struct {
	Name                *string
	Width               *float64
	Image               []byte
	ActiveFlag          *bool
	ApplicationMetadata *string
}

// UpdateTarget mutates a target. Replacing the image re-rates the target,
// re-runs the quality predicate and restarts the processing window; updates
// to the name, width, active flag or metadata do not.
func (s *Store) UpdateTarget(databaseName, targetID string, params UpdateTargetParams) (*vuforia.Target, error) {
	width := float64(0)
	if params.Width != nil {
		width = *params.Width
	}
	metadata := ""
	if params.ApplicationMetadata != nil {
		metadata = *params.ApplicationMetadata
	}
	if err := validateParams(width, metadata); err != nil {
		return nil, err
	}

	entry, err := s.entry(databaseName)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	s.pruneLocked(entry.database)

	target, ok := entry.database.Targets[targetID]
	if !ok || target.Deleted() {
		return nil, ErrTargetNotFound
	}
	if params.Name != nil && *params.Name != target.Name {
		if _, exists := entry.database.TargetByName(*params.Name); exists {
			return nil, ErrNameConflict
		}
		target.Name = *params.Name
	}
	if params.Width != nil {
		target.Width = *params.Width
	}
	if params.ActiveFlag != nil {
		target.ActiveFlag = *params.ActiveFlag
	}
	if params.ApplicationMetadata != nil {
		target.ApplicationMetadata = *params.ApplicationMetadata
	}

	now := s.now().UTC()
	if params.Image != nil {
		target.Image = append([]byte(nil), params.Image...)
		target.ImageHash = vuforia.HashImage(params.Image)
		target.TrackingRating = s.rater.Rate(params.Image)
		target.QualityPassed = s.predicate(params.Image, target.TrackingRating)
		target.ProcessingStartedAt = now
	}
	target.LastModifiedAt = now
	return target.Clone(), nil
}

// DeleteTarget soft-deletes a target. It stays internally resolvable for the
// grace window so the query face can emulate eventual-consistency lag.
func (s *Store) DeleteTarget(databaseName, targetID string) (*vuforia.Target, error) {
	entry, err := s.entry(databaseName)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	s.pruneLocked(entry.database)

	target, ok := entry.database.Targets[targetID]
	if !ok || target.Deleted() {
		return nil, ErrTargetNotFound
	}
	now := s.now().UTC()
	target.DeletedAt = &now
	return target.Clone(), nil
}

func (s *Store) entry(name string) (*databaseEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.databases[name]
	if !ok {
		return nil, ErrDatabaseNotFound
	}
	return entry, nil
}

// pruneLocked drops deleted targets whose grace window has elapsed. Callers
// hold the database lock.
func (s *Store) pruneLocked(database *vuforia.Database) {
	now := s.now().UTC()
	for id, target := range database.Targets {
		if target.DeletedAt != nil && now.Sub(*target.DeletedAt) >= s.graceWindow {
			delete(database.Targets, id)
		}
	}
}

func validateParams(width float64, metadata string) error {
	if width < 0 {
		return &ValidationError{Field: "width", Reason: "must not be negative"}
	}
	if metadata != "" {
		decoded, err := base64.StdEncoding.DecodeString(metadata)
		if err != nil {
			return &ValidationError{Field: "application_metadata", Reason: "must be valid base64"}
		}
		if len(decoded) > maxMetadataBytes {
			return &ValidationError{Field: "application_metadata", Reason: "too large"}
		}
	}
	return nil
}
