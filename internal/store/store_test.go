package store_test

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vumock/internal/rate"
	"vumock/internal/store"
	"vumock/internal/vuforia"
)

// countingRater tracks how often an image gets rated, so tests can assert
// re-rating happens only on image replacement.
type countingRater struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRater) Name() string { return "counting" }

func (r *countingRater) Rate([]byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.calls % 6
}

func (r *countingRater) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T, clk *clock, grace time.Duration) *store.Store {
	t.Helper()
	return store.New(rate.HardcodedRater{Rating: 4}, rate.AlwaysPass, grace).WithClock(clk.Now)
}

func createDatabase(t *testing.T, st *store.Store, name string) *vuforia.Database {
	t.Helper()
	database, err := st.CreateDatabase(&vuforia.Database{Name: name, State: vuforia.StateWorking})
	require.NoError(t, err)
	return database
}

func TestCreateDatabase_GeneratesKeysAndRejectsDuplicates(t *testing.T) {
	st := newStore(t, newClock(), time.Minute)

	database := createDatabase(t, st, "db")
	assert.NotEmpty(t, database.ServerAccessKey)
	assert.NotEmpty(t, database.ClientAccessKey)

	_, err := st.CreateDatabase(&vuforia.Database{Name: "db"})
	assert.ErrorIs(t, err, store.ErrDatabaseConflict)
}

func TestCreateTarget_LifecycleAndRating(t *testing.T) {
	clk := newClock()
	st := newStore(t, clk, time.Minute)
	createDatabase(t, st, "db")

	target, err := st.CreateTarget("db", store.CreateTargetParams{
		Name:       "landmark",
		Width:      1.5,
		Image:      []byte("image-bytes"),
		ActiveFlag: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, target.TrackingRating)
	assert.Equal(t, vuforia.KindImage, target.Kind)
	assert.Equal(t, vuforia.StatusProcessing, target.Status(clk.Now(), 2*time.Second))

	clk.Advance(2 * time.Second)
	fetched, err := st.GetTarget("db", target.TargetID)
	require.NoError(t, err)
	assert.Equal(t, vuforia.StatusSuccess, fetched.Status(clk.Now(), 2*time.Second))
}

func TestCreateTarget_NameConflictAmongLiveTargets(t *testing.T) {
	clk := newClock()
	st := newStore(t, clk, time.Minute)
	createDatabase(t, st, "db")

	first, err := st.CreateTarget("db", store.CreateTargetParams{Name: "dup", Image: []byte("a")})
	require.NoError(t, err)

	_, err = st.CreateTarget("db", store.CreateTargetParams{Name: "dup", Image: []byte("b")})
	assert.ErrorIs(t, err, store.ErrNameConflict)

	// Once the holder is deleted and the grace window passes, the name frees up.
	_, err = st.DeleteTarget("db", first.TargetID)
	require.NoError(t, err)
	clk.Advance(time.Minute)

	_, err = st.CreateTarget("db", store.CreateTargetParams{Name: "dup", Image: []byte("b")})
	assert.NoError(t, err)
}

func TestUpdateTarget_ImageReplacementResetsProcessing(t *testing.T) {
	clk := newClock()
	rater := &countingRater{}
	st := store.New(rater, rate.AlwaysPass, time.Minute).WithClock(clk.Now)
	createDatabase(t, st, "db")

	target, err := st.CreateTarget("db", store.CreateTargetParams{Name: "t", Image: []byte("v1")})
	require.NoError(t, err)
	assert.Equal(t, 1, rater.count())
	createdProcessingStart := target.ProcessingStartedAt

	clk.Advance(10 * time.Second)

	// Metadata-only update: no re-rate, no processing reset.
	metadata := base64.StdEncoding.EncodeToString([]byte("meta"))
	updated, err := st.UpdateTarget("db", target.TargetID, store.UpdateTargetParams{
		ApplicationMetadata: &metadata,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rater.count())
	assert.Equal(t, createdProcessingStart, updated.ProcessingStartedAt)
	assert.True(t, updated.LastModifiedAt.After(updated.CreatedAt))

	// Image replacement: re-rate and restart the window.
	updated, err = st.UpdateTarget("db", target.TargetID, store.UpdateTargetParams{
		Image: []byte("v2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rater.count())
	assert.True(t, updated.ProcessingStartedAt.After(createdProcessingStart))
	assert.Equal(t, vuforia.StatusProcessing, updated.Status(clk.Now(), 2*time.Second))
}

func TestUpdateTarget_RenameRules(t *testing.T) {
	clk := newClock()
	st := newStore(t, clk, time.Minute)
	createDatabase(t, st, "db")

	first, err := st.CreateTarget("db", store.CreateTargetParams{Name: "one", Image: []byte("a")})
	require.NoError(t, err)
	_, err = st.CreateTarget("db", store.CreateTargetParams{Name: "two", Image: []byte("b")})
	require.NoError(t, err)

	// Renaming to your own current name is fine.
	name := "one"
	_, err = st.UpdateTarget("db", first.TargetID, store.UpdateTargetParams{Name: &name})
	assert.NoError(t, err)

	// Renaming onto a live holder is not.
	name = "two"
	_, err = st.UpdateTarget("db", first.TargetID, store.UpdateTargetParams{Name: &name})
	assert.ErrorIs(t, err, store.ErrNameConflict)
}

func TestDeleteTarget_GraceWindow(t *testing.T) {
	clk := newClock()
	st := newStore(t, clk, 3*time.Second)
	createDatabase(t, st, "db")

	target, err := st.CreateTarget("db", store.CreateTargetParams{Name: "t", Image: []byte("a")})
	require.NoError(t, err)

	deleted, err := st.DeleteTarget("db", target.TargetID)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)

	// Inside the window the target is still resolvable, flagged deleted.
	clk.Advance(2 * time.Second)
	fetched, err := st.GetTarget("db", target.TargetID)
	require.NoError(t, err)
	assert.True(t, fetched.Deleted())

	// Mutating a soft-deleted target is a NotFound, not a conflict.
	name := "renamed"
	_, err = st.UpdateTarget("db", target.TargetID, store.UpdateTargetParams{Name: &name})
	assert.ErrorIs(t, err, store.ErrTargetNotFound)
	_, err = st.DeleteTarget("db", target.TargetID)
	assert.ErrorIs(t, err, store.ErrTargetNotFound)

	// Past the window it is pruned on the next read.
	clk.Advance(2 * time.Second)
	_, err = st.GetTarget("db", target.TargetID)
	assert.ErrorIs(t, err, store.ErrTargetNotFound)
}

func TestDeleteDatabase_Immediate(t *testing.T) {
	st := newStore(t, newClock(), time.Minute)
	createDatabase(t, st, "db")

	require.NoError(t, st.DeleteDatabase("db"))
	assert.ErrorIs(t, st.DeleteDatabase("db"), store.ErrDatabaseNotFound)
	_, err := st.GetDatabase("db")
	assert.ErrorIs(t, err, store.ErrDatabaseNotFound)
}

func TestValidation(t *testing.T) {
	st := newStore(t, newClock(), time.Minute)
	createDatabase(t, st, "db")

	var validation *store.ValidationError

	_, err := st.CreateTarget("db", store.CreateTargetParams{Name: "t", Width: -1})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "width", validation.Field)

	_, err = st.CreateTarget("db", store.CreateTargetParams{
		Name:                "t",
		ApplicationMetadata: "not-base64!!",
	})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "application_metadata", validation.Field)
}

func TestCreateTarget_ConcurrentSameName(t *testing.T) {
	st := newStore(t, newClock(), time.Minute)
	createDatabase(t, st, "db")

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = st.CreateTarget("db", store.CreateTargetParams{
				Name:  "contested",
				Image: []byte("a"),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, store.ErrNameConflict)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestListDatabases_SortedClones(t *testing.T) {
	st := newStore(t, newClock(), time.Minute)
	createDatabase(t, st, "beta")
	createDatabase(t, st, "alpha")

	databases := st.ListDatabases()
	require.Len(t, databases, 2)
	assert.Equal(t, "alpha", databases[0].Name)
	assert.Equal(t, "beta", databases[1].Name)

	// Mutating the returned copy must not leak into the store.
	databases[0].Name = "mutated"
	_, err := st.GetDatabase("alpha")
	assert.NoError(t, err)
}
