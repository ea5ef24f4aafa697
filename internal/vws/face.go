// Package vws emulates the management API of the cloud recognition service:
// target CRUD, database summaries and duplicate detection, all behind the
// signed-request scheme. State lives in the target manager service; this
// face only translates protocol semantics.
package vws

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vumock/internal/auth"
	"vumock/internal/config"
	"vumock/internal/manager"
	"vumock/internal/match"
	"vumock/internal/store"
	"vumock/internal/vuforia"
)

type Face struct {
	log     zerolog.Logger
	manager *manager.Client
	matcher match.Matcher

	processingDuration time.Duration
	skewTolerance      time.Duration
	now                func() time.Time
}

func New(log zerolog.Logger, client *manager.Client, matcher match.Matcher, cfg *config.AppConfig) *Face {
	return &Face{
		log:                log,
		manager:            client,
		matcher:            matcher,
		processingDuration: cfg.Lifecycle.ProcessingDuration,
		skewTolerance:      cfg.Auth.ManagementSkewTolerance,
		now:                time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (f *Face) WithClock(now func() time.Time) *Face {
	f.now = now
	return f
}

func (f *Face) Register(engine *gin.Engine) {
	engine.POST("/targets", f.handle(f.addTarget))
	engine.GET("/targets", f.handle(f.targetList))
	engine.GET("/targets/:id", f.handle(f.getTarget))
	engine.PUT("/targets/:id", f.handle(f.updateTarget))
	engine.DELETE("/targets/:id", f.handle(f.deleteTarget))
	engine.GET("/summary", f.handle(f.databaseSummary))
	engine.GET("/summary/:id", f.handle(f.targetSummary))
	engine.GET("/duplicates/:id", f.handle(f.checkDuplicates))
}

// requestContext is what survives the validator chain: the raw body, the
// authenticated database, and the addressed target when the path names one.
type requestContext struct {
	body     []byte
	database *vuforia.Database
	target   *vuforia.Target
}

type handlerFunc func(c *gin.Context, rc *requestContext)

// handle wraps an endpoint with the shared validator chain: authentication,
// clock-skew, project state and target resolution, in that order. Any
// failure short-circuits before the endpoint (and therefore before any
// mutation) runs.
func (f *Face) handle(next handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			writeResultError(c, errBadRequestFail)
			return
		}

		databases, err := f.manager.ListDatabases(c.Request.Context())
		if err != nil {
			f.log.Error().Err(err).Msg("list databases")
			writeResultError(c, errInternalFail)
			return
		}

		secrets := make(map[string]string, len(databases))
		byAccessKey := make(map[string]*vuforia.Database, len(databases))
		for _, database := range databases {
			secrets[database.ServerAccessKey] = database.ServerSecretKey
			byAccessKey[database.ServerAccessKey] = database
		}

		verifier := auth.NewVerifier(secrets, f.skewTolerance, auth.ManagementDateFormats).WithClock(f.now)
		accessKey, err := verifier.Verify(auth.Request{
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			ContentType:   c.GetHeader("Content-Type"),
			Body:          body,
			DateHeader:    c.GetHeader("Date"),
			Authorization: c.GetHeader("Authorization"),
		})
		if err != nil {
			writeResultError(c, authResultError(err))
			return
		}
		database := byAccessKey[accessKey]

		if database.State == vuforia.StateProjectInactive && !inactiveExempt(c) {
			writeResultError(c, errProjectInactive)
			return
		}

		rc := &requestContext{body: body, database: database}
		if targetID := c.Param("id"); targetID != "" {
			target, ok := database.Targets[targetID]
			if !ok || target.Deleted() {
				writeResultError(c, errUnknownTarget)
				return
			}
			rc.target = target
		}

		next(c, rc)
	}
}

// The management API keeps read endpoints other than duplicate detection
// working on inactive projects.
func inactiveExempt(c *gin.Context) bool {
	return c.Request.Method == http.MethodGet && !strings.Contains(c.Request.URL.Path, "duplicates")
}

func authResultError(err error) *resultError {
	switch {
	case errors.Is(err, auth.ErrMissingAuth), errors.Is(err, auth.ErrBadSignature):
		return errAuthenticationFailure
	case errors.Is(err, auth.ErrSkewedFuture), errors.Is(err, auth.ErrSkewedPast):
		return errRequestTimeTooSkewed
	default:
		// Malformed header, unknown access key, missing or unparseable
		// date all come back as a plain Fail.
		return errBadRequestFail
	}
}

func (f *Face) addTarget(c *gin.Context, rc *requestContext) {
	parsed, rerr := parseBody(rc.body)
	if rerr != nil {
		writeResultError(c, rerr)
		return
	}
	name, hasName, rerr := parsed.stringField("name")
	if rerr == nil && !hasName {
		rerr = errBadRequestFail
	}
	if rerr != nil {
		writeResultError(c, rerr)
		return
	}
	if rerr := validateName(name); rerr != nil {
		writeResultError(c, rerr)
		return
	}
	width, hasWidth, rerr := parsed.floatField("width")
	if rerr == nil && !hasWidth {
		rerr = errBadRequestFail
	}
	if rerr != nil {
		writeResultError(c, rerr)
		return
	}
	if rerr := validateWidth(width); rerr != nil {
		writeResultError(c, rerr)
		return
	}
	imageEncoded, hasImage, rerr := parsed.stringField("image")
	if rerr == nil && !hasImage {
		rerr = errBadRequestFail
	}
	if rerr != nil {
		writeResultError(c, rerr)
		return
	}
	imageBytes, rerr := validateImage(imageEncoded)
	if rerr != nil {
		writeResultError(c, rerr)
		return
	}
	activeFlag := true
	if flag, hasFlag, rerr := parsed.boolField("active_flag"); rerr != nil {
		writeResultError(c, rerr)
		return
	} else if hasFlag {
		activeFlag = flag
	}
	metadata, _, rerr := parsed.stringField("application_metadata")
	if rerr != nil {
		writeResultError(c, rerr)
		return
	}
	if metadata != "" {
		if rerr := validateMetadata(metadata); rerr != nil {
			writeResultError(c, rerr)
			return
		}
	}
	if _, exists := rc.database.TargetByName(name); exists {
		writeResultError(c, errTargetNameExist)
		return
	}

	target, err := f.manager.CreateTarget(c.Request.Context(), rc.database.Name, store.CreateTargetParams{
		Name:                name,
		Kind:                vuforia.KindImage,
		Width:               width,
		Image:               imageBytes,
		ActiveFlag:          activeFlag,
		ApplicationMetadata: metadata,
	})
	if err != nil {
		writeResultError(c, storeResultError(err))
		return
	}

	writeJSON(c, http.StatusCreated, targetCreatedResponse{
		envelope: newEnvelope(vuforia.ResultTargetCreated),
		TargetID: target.TargetID,
	})
}

func (f *Face) getTarget(c *gin.Context, rc *requestContext) {
	target := rc.target
	now := f.now()
	writeJSON(c, http.StatusOK, getTargetResponse{
		ResultCode:    vuforia.ResultSuccess,
		TransactionID: vuforia.NewID(),
		TargetRecord: targetRecord{
			TargetID:       target.TargetID,
			ActiveFlag:     target.ActiveFlag,
			Name:           target.Name,
			Width:          target.Width,
			TrackingRating: f.visibleRating(target, now),
			RecoRating:     "",
		},
		Status: target.Status(now, f.processingDuration),
	})
}

func (f *Face) targetList(c *gin.Context, rc *requestContext) {
	results := []string{}
	for _, target := range rc.database.NotDeletedTargets() {
		results = append(results, target.TargetID)
	}
	sort.Strings(results)
	response := targetListResponse{envelope: newEnvelope(vuforia.ResultSuccess), Results: results}
	writeJSON(c, http.StatusOK, response)
}

func (f *Face) updateTarget(c *gin.Context, rc *requestContext) {
	parsed, rerr := parseBody(rc.body)
	if rerr != nil {
		writeResultError(c, rerr)
		return
	}
	if rc.target.Status(f.now(), f.processingDuration) != vuforia.StatusSuccess {
		writeResultError(c, errTargetStatusNotSuccess)
		return
	}

	params := store.UpdateTargetParams{}
	if parsed.has("name") {
		name, ok, rerr := parsed.stringField("name")
		if rerr == nil && !ok {
			rerr = errBadRequestFail
		}
		if rerr == nil {
			rerr = validateName(name)
		}
		if rerr != nil {
			writeResultError(c, rerr)
			return
		}
		if name != rc.target.Name {
			if _, exists := rc.database.TargetByName(name); exists {
				writeResultError(c, errTargetNameExist)
				return
			}
		}
		params.Name = &name
	}
	if parsed.has("width") {
		width, ok, rerr := parsed.floatField("width")
		if rerr == nil && !ok {
			rerr = errBadRequestFail
		}
		if rerr == nil {
			rerr = validateWidth(width)
		}
		if rerr != nil {
			writeResultError(c, rerr)
			return
		}
		params.Width = &width
	}
	if parsed.has("active_flag") {
		if parsed.isNull("active_flag") {
			writeResultError(c, errBadRequestFail)
			return
		}
		flag, _, rerr := parsed.boolField("active_flag")
		if rerr != nil {
			writeResultError(c, rerr)
			return
		}
		params.ActiveFlag = &flag
	}
	if parsed.has("application_metadata") {
		if parsed.isNull("application_metadata") {
			writeResultError(c, errBadRequestFail)
			return
		}
		metadata, _, rerr := parsed.stringField("application_metadata")
		if rerr == nil && metadata != "" {
			rerr = validateMetadata(metadata)
		}
		if rerr != nil {
			writeResultError(c, rerr)
			return
		}
		params.ApplicationMetadata = &metadata
	}
	if parsed.has("image") {
		encoded, ok, rerr := parsed.stringField("image")
		if rerr == nil && !ok {
			rerr = errBadRequestFail
		}
		if rerr != nil {
			writeResultError(c, rerr)
			return
		}
		imageBytes, rerr := validateImage(encoded)
		if rerr != nil {
			writeResultError(c, rerr)
			return
		}
		params.Image = imageBytes
	}

	if _, err := f.manager.UpdateTarget(c.Request.Context(), rc.database.Name, rc.target.TargetID, params); err != nil {
		writeResultError(c, storeResultError(err))
		return
	}
	writeJSON(c, http.StatusOK, newEnvelope(vuforia.ResultSuccess))
}

func (f *Face) deleteTarget(c *gin.Context, rc *requestContext) {
	if rc.target.Status(f.now(), f.processingDuration) == vuforia.StatusProcessing {
		writeResultError(c, errTargetStatusProcessing)
		return
	}
	if _, err := f.manager.DeleteTarget(c.Request.Context(), rc.database.Name, rc.target.TargetID); err != nil {
		writeResultError(c, storeResultError(err))
		return
	}
	writeJSON(c, http.StatusOK, newEnvelope(vuforia.ResultSuccess))
}

func (f *Face) databaseSummary(c *gin.Context, rc *requestContext) {
	active, inactive, failed, processing := rc.database.CountByStatus(f.now(), f.processingDuration)
	writeJSON(c, http.StatusOK, databaseSummaryResponse{
		ResultCode:       vuforia.ResultSuccess,
		TransactionID:    vuforia.NewID(),
		Name:             rc.database.Name,
		ActiveImages:     active,
		InactiveImages:   inactive,
		FailedImages:     failed,
		ProcessingImages: processing,
		TargetQuota:      targetQuota,
		RecoThreshold:    recoThreshold,
		RequestQuota:     requestQuota,
		// The real service always reports zero usage.
		RequestUsage: 0,
	})
}

func (f *Face) targetSummary(c *gin.Context, rc *requestContext) {
	target := rc.target
	now := f.now()
	writeJSON(c, http.StatusOK, targetSummaryResponse{
		Status:         target.Status(now, f.processingDuration),
		TransactionID:  vuforia.NewID(),
		ResultCode:     vuforia.ResultSuccess,
		DatabaseName:   rc.database.Name,
		TargetName:     target.Name,
		UploadDate:     target.CreatedAt.UTC().Format("2006-01-02"),
		ActiveFlag:     target.ActiveFlag,
		TrackingRating: f.visibleRating(target, now),
	})
}

// checkDuplicates compares the addressed target's image against every other
// target in the database using the configured matcher. Failed targets never
// participate, processing or inactive candidates are skipped, and results
// are ordered by score then target ID for determinism.
func (f *Face) checkDuplicates(c *gin.Context, rc *requestContext) {
	now := f.now()
	target := rc.target
	targetStatus := target.Status(now, f.processingDuration)

	var ranked []match.Ranked
	for _, other := range rc.database.NotDeletedTargets() {
		if other.TargetID == target.TargetID {
			continue
		}
		otherStatus := other.Status(now, f.processingDuration)
		if targetStatus == vuforia.StatusFailed || otherStatus == vuforia.StatusFailed {
			continue
		}
		if otherStatus == vuforia.StatusProcessing || !other.ActiveFlag {
			continue
		}
		score, err := f.matcher.Score(target.Image, other.Image)
		if err != nil {
			f.log.Warn().Err(err).Str("target_id", other.TargetID).Msg("duplicate comparison failed")
			continue
		}
		if f.matcher.IsMatch(score) {
			ranked = append(ranked, match.Ranked{TargetID: other.TargetID, Score: score})
		}
	}
	match.SortRanked(ranked)

	similar := []string{}
	for _, entry := range ranked {
		similar = append(similar, entry.TargetID)
	}
	writeJSON(c, http.StatusOK, duplicatesResponse{
		envelope:       newEnvelope(vuforia.ResultSuccess),
		SimilarTargets: similar,
	})
}

// visibleRating reproduces the brief -1 rating the real service reports
// right after an image is assigned, before the stored rating becomes
// visible.
func (f *Face) visibleRating(target *vuforia.Target, now time.Time) int {
	if now.Sub(target.ProcessingStartedAt) <= f.processingDuration/2 {
		return -1
	}
	return target.TrackingRating
}

func storeResultError(err error) *resultError {
	var validation *store.ValidationError
	switch {
	case errors.Is(err, store.ErrTargetNotFound):
		return errUnknownTarget
	case errors.Is(err, store.ErrNameConflict):
		return errTargetNameExist
	case errors.As(err, &validation):
		return errBadRequestFail
	default:
		return errInternalFail
	}
}
