package vuforia

import "time"

type DatabaseState string

const (
	StateWorking DatabaseState = "WORKING"
	// StateProjectInactive corresponds to a project whose license key has
	// been deleted. It disables almost every operation on the database.
	StateProjectInactive DatabaseState = "PROJECT_INACTIVE"
)

// Database is a named collection of targets with its own key pairs. The
// server pair signs management API requests, the client pair signs query API
// requests.
type Database struct {
	Name            string             `json:"database_name"`
	ServerAccessKey string             `json:"server_access_key"`
	ServerSecretKey string             `json:"server_secret_key"`
	ClientAccessKey string             `json:"client_access_key"`
	ClientSecretKey string             `json:"client_secret_key"`
	State           DatabaseState      `json:"state"`
	Targets         map[string]*Target `json:"targets"`
}

// NewDatabase returns a database with four freshly generated distinct keys.
func NewDatabase(name string, state DatabaseState) *Database {
	if name == "" {
		name = NewID()
	}
	if state == "" {
		state = StateWorking
	}
	return &Database{
		Name:            name,
		ServerAccessKey: NewID(),
		ServerSecretKey: NewID(),
		ClientAccessKey: NewID(),
		ClientSecretKey: NewID(),
		State:           state,
		Targets:         map[string]*Target{},
	}
}

// Clone deep-copies the database and all its targets.
func (d *Database) Clone() *Database {
	cp := *d
	cp.Targets = make(map[string]*Target, len(d.Targets))
	for id, target := range d.Targets {
		cp.Targets[id] = target.Clone()
	}
	return &cp
}

// NotDeletedTargets returns targets without a delete date.
func (d *Database) NotDeletedTargets() []*Target {
	var targets []*Target
	for _, target := range d.Targets {
		if !target.Deleted() {
			targets = append(targets, target)
		}
	}
	return targets
}

// TargetByName finds a non-deleted target with the given name.
func (d *Database) TargetByName(name string) (*Target, bool) {
	for _, target := range d.Targets {
		if !target.Deleted() && target.Name == name {
			return target, true
		}
	}
	return nil, false
}

// CountByStatus tallies non-deleted targets for the database summary report.
// Active and inactive counts only cover successfully processed targets, the
// way the emulated service reports them.
func (d *Database) CountByStatus(now time.Time, processingDuration time.Duration) (active, inactive, failed, processing int) {
	for _, target := range d.NotDeletedTargets() {
		switch target.Status(now, processingDuration) {
		case StatusSuccess:
			if target.ActiveFlag {
				active++
			} else {
				inactive++
			}
		case StatusFailed:
			failed++
		case StatusProcessing:
			processing++
		}
	}
	return active, inactive, failed, processing
}
