// Package vwq emulates the query API of the cloud recognition service: a
// single multipart endpoint that ranks stored targets against an uploaded
// image. State lives in the target manager service; this face only
// translates protocol semantics.
package vwq

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vumock/internal/auth"
	"vumock/internal/config"
	"vumock/internal/manager"
	"vumock/internal/match"
	"vumock/internal/vuforia"
)

// Largest image upload the query API accepts.
const maxQueryImageBytes = 2 * 1024 * 1024

type Face struct {
	log     zerolog.Logger
	manager *manager.Client
	matcher match.Matcher

	processingDuration time.Duration
	graceWindow        time.Duration
	skewTolerance      time.Duration
	now                func() time.Time
}

func New(log zerolog.Logger, client *manager.Client, matcher match.Matcher, cfg *config.AppConfig) *Face {
	return &Face{
		log:                log,
		manager:            client,
		matcher:            matcher,
		processingDuration: cfg.Lifecycle.ProcessingDuration,
		graceWindow:        cfg.Lifecycle.DeletionGraceWindow,
		skewTolerance:      cfg.Auth.QuerySkewTolerance,
		now:                time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (f *Face) WithClock(now func() time.Time) *Face {
	f.now = now
	return f
}

func (f *Face) Register(engine *gin.Engine) {
	engine.POST("/v1/query", f.query)
}

// queryForm is the parsed multipart body: the uploaded image plus the two
// optional tuning fields, kept as raw strings so error messages can echo
// exactly what the client sent.
type queryForm struct {
	image                []byte
	maxNumResultsRaw     string
	includeTargetDataRaw string
}

// query runs the validator chain in the same order as the emulated service:
// authorization shape, signature, project state, content type, form fields,
// image, tuning fields, and only then the Date header. A request with both a
// bad signature and a skewed date therefore fails on the signature.
func (f *Face) query(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeQueryError(c, errNoImage)
		return
	}

	databases, err := f.manager.ListDatabases(c.Request.Context())
	if err != nil {
		f.log.Error().Err(err).Msg("list databases")
		writeQueryError(c, envelopeError(http.StatusInternalServerError, vuforia.ResultFail))
		return
	}

	secrets := make(map[string]string, len(databases))
	byAccessKey := make(map[string]*vuforia.Database, len(databases))
	for _, database := range databases {
		secrets[database.ClientAccessKey] = database.ClientSecretKey
		byAccessKey[database.ClientAccessKey] = database
	}

	verifier := auth.NewVerifier(secrets, f.skewTolerance, auth.QueryDateFormats).WithClock(f.now)
	accessKey, err := verifier.VerifySignature(auth.Request{
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		ContentType:   c.GetHeader("Content-Type"),
		Body:          body,
		DateHeader:    c.GetHeader("Date"),
		Authorization: c.GetHeader("Authorization"),
	})
	if err != nil {
		writeQueryError(c, authQueryError(err))
		return
	}
	database := byAccessKey[accessKey]

	if database.State == vuforia.StateProjectInactive {
		writeQueryError(c, errInactiveProject())
		return
	}

	form, qerr := parseQueryForm(c.GetHeader("Content-Type"), body)
	if qerr != nil {
		writeQueryError(c, qerr)
		return
	}

	maxNumResults, qerr := parseMaxNumResults(form.maxNumResultsRaw)
	if qerr != nil {
		writeQueryError(c, qerr)
		return
	}
	includeTargetData, qerr := parseIncludeTargetData(form.includeTargetDataRaw)
	if qerr != nil {
		writeQueryError(c, qerr)
		return
	}

	if err := verifier.VerifyDate(c.GetHeader("Date")); err != nil {
		writeQueryError(c, dateQueryError(err))
		return
	}

	f.respondWithMatches(c, database, form.image, maxNumResults, includeTargetData)
}

func authQueryError(err error) *queryError {
	switch {
	case errors.Is(err, auth.ErrMissingAuth):
		return errAuthMissing
	case errors.Is(err, auth.ErrMalformedAuth):
		return errAuthMalformed
	default:
		// Unknown access key and signature mismatch are indistinguishable
		// to the client.
		return errAuthenticationFailure()
	}
}

func dateQueryError(err error) *queryError {
	switch {
	case errors.Is(err, auth.ErrMissingDate):
		return errDateMissing
	case errors.Is(err, auth.ErrUnparseableDate):
		return errDateMalformed
	default:
		return errRequestTimeTooSkewed()
	}
}

// parseQueryForm validates the Content-Type header and multipart body,
// returning the image bytes and raw tuning fields.
func parseQueryForm(contentType string, body []byte) (*queryForm, *queryError) {
	if contentType == "" {
		return nil, errUnsupportedMediaType
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || (mediaType != "multipart/form-data" && mediaType != "*/*") {
		return nil, errUnsupportedMediaType
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil, errNoBoundary
	}
	if !bytes.Contains(body, []byte(boundary)) {
		return nil, errNoImage
	}

	form := &queryForm{}
	hasImage := false
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errNoImage
		}
		value, err := io.ReadAll(part)
		if err != nil {
			return nil, errNoImage
		}
		switch part.FormName() {
		case "image":
			form.image = value
			hasImage = true
		case "max_num_results":
			form.maxNumResultsRaw = string(value)
		case "include_target_data":
			form.includeTargetDataRaw = string(value)
		default:
			return nil, errUnknownParams
		}
	}
	if !hasImage {
		return nil, errNoImage
	}

	if _, format, err := image.Decode(bytes.NewReader(form.image)); err != nil || (format != "png" && format != "jpeg") {
		return nil, errBadImage()
	}
	if len(form.image) > maxQueryImageBytes {
		return nil, errImageTooLarge
	}
	return form, nil
}

func parseMaxNumResults(raw string) (int, *queryError) {
	if raw == "" {
		return 1, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errInvalidMaxNumResults(raw)
	}
	if value < 1 || value > 50 {
		return 0, errMaxNumResultsOutOfRange(raw)
	}
	return value, nil
}

func parseIncludeTargetData(raw string) (string, *queryError) {
	if raw == "" {
		return "top", nil
	}
	value := strings.ToLower(raw)
	switch value {
	case "top", "all", "none":
		return value, nil
	}
	return "", errInvalidIncludeTargetData(raw)
}

// respondWithMatches ranks the database's targets against the uploaded
// image. A match against a target that is still processing, or that was
// deleted within the grace window, yields the fixed server-error page: the
// emulated service has not caught up yet, and clients must treat the result
// as undefined.
func (f *Face) respondWithMatches(c *gin.Context, database *vuforia.Database, candidate []byte, maxNumResults int, includeTargetData string) {
	now := f.now()

	var ranked []match.Ranked
	targets := make(map[string]*vuforia.Target, len(database.Targets))
	for _, target := range database.Targets {
		if !target.ActiveFlag {
			continue
		}
		if target.Deleted() && !target.DeletedWithin(now, f.graceWindow) {
			continue
		}
		status := target.Status(now, f.processingDuration)
		if status == vuforia.StatusFailed {
			continue
		}
		score, err := f.matcher.Score(candidate, target.Image)
		if err != nil {
			f.log.Warn().Err(err).Str("target_id", target.TargetID).Msg("query comparison failed")
			continue
		}
		if !f.matcher.IsMatch(score) {
			continue
		}
		if status == vuforia.StatusProcessing || target.Deleted() {
			writeQueryError(c, errMatchProcessing)
			return
		}
		ranked = append(ranked, match.Ranked{TargetID: target.TargetID, Score: score})
		targets[target.TargetID] = target
	}
	match.SortRanked(ranked)
	if len(ranked) > maxNumResults {
		ranked = ranked[:maxNumResults]
	}

	results := []queryResult{}
	for i, entry := range ranked {
		target := targets[entry.TargetID]
		result := queryResult{TargetID: target.TargetID}
		if includeTargetData == "all" || (includeTargetData == "top" && i == 0) {
			data := &queryTargetData{
				TargetTimestamp: target.LastModifiedAt.Unix(),
				Name:            target.Name,
			}
			if target.ApplicationMetadata != "" {
				metadata := target.ApplicationMetadata
				data.ApplicationMetadata = &metadata
			}
			result.TargetData = data
		}
		results = append(results, result)
	}

	c.Header("Date", time.Now().UTC().Format(http.TimeFormat))
	c.JSON(http.StatusOK, queryResponse{
		ResultCode: vuforia.ResultSuccess,
		Results:    results,
		QueryID:    vuforia.NewID(),
	})
}
