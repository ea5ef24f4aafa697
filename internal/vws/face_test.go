package vws_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vumock/internal/auth"
	"vumock/internal/config"
	"vumock/internal/manager"
	"vumock/internal/match"
	"vumock/internal/rate"
	"vumock/internal/store"
	"vumock/internal/vuforia"
	"vumock/internal/vws"
)

// harness runs the full management stack: a target manager service on a test
// listener with the face talking to it over HTTP, the way the three
// processes are deployed.
type harness struct {
	engine   *gin.Engine
	store    *store.Store
	database *vuforia.Database
}

func newHarness(t *testing.T, processingDuration time.Duration) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()

	st := store.New(rate.HardcodedRater{Rating: 4}, rate.AlwaysPass, time.Minute)
	managerEngine := gin.New()
	manager.NewServer(logger, st).Register(managerEngine)
	managerServer := httptest.NewServer(managerEngine)
	t.Cleanup(managerServer.Close)

	client := manager.NewClient(config.ManagerConfig{
		BaseURL: managerServer.URL,
		Timeout: 5 * time.Second,
	})
	cfg := &config.AppConfig{
		Lifecycle: config.LifecycleConfig{
			ProcessingDuration:  processingDuration,
			DeletionGraceWindow: time.Minute,
		},
		Auth: config.AuthConfig{ManagementSkewTolerance: 5 * time.Minute},
	}
	face := vws.New(logger, client, match.ExactMatcher{}, cfg)
	engine := gin.New()
	face.Register(engine)

	database, err := st.CreateDatabase(&vuforia.Database{Name: "db", State: vuforia.StateWorking})
	require.NoError(t, err)

	return &harness{engine: engine, store: st, database: database}
}

func (h *harness) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	return h.doSigned(t, method, path, body, h.database.ServerAccessKey, h.database.ServerSecretKey,
		time.Now().UTC().Format(http.TimeFormat))
}

func (h *harness) doSigned(t *testing.T, method, path string, body []byte, accessKey, secretKey, date string) *httptest.ResponseRecorder {
	t.Helper()
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Date", date)
	req.Header.Set("Authorization",
		auth.AuthorizationHeader(accessKey, secretKey, method, body, contentType, date, path))

	recorder := httptest.NewRecorder()
	h.engine.ServeHTTP(recorder, req)
	return recorder
}

func testPNG(t *testing.T, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func createBody(t *testing.T, name string, imageBytes []byte) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"name":  name,
		"width": 1.0,
		"image": base64.StdEncoding.EncodeToString(imageBytes),
	})
	require.NoError(t, err)
	return body
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	return decoded
}

func createTarget(t *testing.T, h *harness, name string, imageBytes []byte) string {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/targets", createBody(t, name, imageBytes))
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	return decodeBody(t, recorder)["target_id"].(string)
}

func TestAddTarget(t *testing.T) {
	h := newHarness(t, time.Minute)

	recorder := h.do(t, http.MethodPost, "/targets", createBody(t, "landmark", testPNG(t, 1)))
	require.Equal(t, http.StatusCreated, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "TargetCreated", body["result_code"])
	assert.Len(t, body["target_id"], 32)
	assert.NotEmpty(t, body["transaction_id"])
}

func TestAddTarget_BadSignature(t *testing.T) {
	h := newHarness(t, time.Minute)

	date := time.Now().UTC().Format(http.TimeFormat)
	recorder := h.doSigned(t, http.MethodPost, "/targets", createBody(t, "x", testPNG(t, 1)),
		h.database.ServerAccessKey, "wrong-secret", date)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, "AuthenticationFailure", decodeBody(t, recorder)["result_code"])
}

func TestAddTarget_SkewedDate(t *testing.T) {
	h := newHarness(t, time.Minute)

	date := time.Now().UTC().Add(-10 * time.Minute).Format(http.TimeFormat)
	recorder := h.doSigned(t, http.MethodPost, "/targets", createBody(t, "x", testPNG(t, 1)),
		h.database.ServerAccessKey, h.database.ServerSecretKey, date)

	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, "RequestTimeTooSkewed", decodeBody(t, recorder)["result_code"])
}

func TestAddTarget_DuplicateName(t *testing.T) {
	h := newHarness(t, time.Minute)
	createTarget(t, h, "dup", testPNG(t, 1))

	recorder := h.do(t, http.MethodPost, "/targets", createBody(t, "dup", testPNG(t, 2)))
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, "TargetNameExist", decodeBody(t, recorder)["result_code"])
}

func TestAddTarget_UnknownField(t *testing.T) {
	h := newHarness(t, time.Minute)

	body, err := json.Marshal(map[string]any{
		"name":      "x",
		"width":     1.0,
		"image":     base64.StdEncoding.EncodeToString(testPNG(t, 1)),
		"shininess": "high",
	})
	require.NoError(t, err)

	recorder := h.do(t, http.MethodPost, "/targets", body)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Fail", decodeBody(t, recorder)["result_code"])
}

func TestAddTarget_BadImage(t *testing.T) {
	h := newHarness(t, time.Minute)

	recorder := h.do(t, http.MethodPost, "/targets", createBody(t, "x", []byte("not an image")))
	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	assert.Equal(t, "BadImage", decodeBody(t, recorder)["result_code"])
}

func TestAddTarget_NameTooLong(t *testing.T) {
	h := newHarness(t, time.Minute)

	name := make([]byte, 65)
	for i := range name {
		name[i] = 'a'
	}
	recorder := h.do(t, http.MethodPost, "/targets", createBody(t, string(name), testPNG(t, 1)))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Fail", decodeBody(t, recorder)["result_code"])
}

func TestGetTarget_UnknownTarget(t *testing.T) {
	h := newHarness(t, time.Minute)

	recorder := h.do(t, http.MethodGet, "/targets/"+vuforia.NewID(), nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "UnknownTarget", decodeBody(t, recorder)["result_code"])
}

func TestGetTarget_ProcessingHidesRating(t *testing.T) {
	h := newHarness(t, time.Minute)
	targetID := createTarget(t, h, "landmark", testPNG(t, 1))

	recorder := h.do(t, http.MethodGet, "/targets/"+targetID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "processing", body["status"])
	record := body["target_record"].(map[string]any)
	assert.Equal(t, float64(-1), record["tracking_rating"])
	assert.Equal(t, "", record["reco_rating"])
}

func TestGetTarget_SuccessShowsRating(t *testing.T) {
	h := newHarness(t, 0)
	targetID := createTarget(t, h, "landmark", testPNG(t, 1))

	recorder := h.do(t, http.MethodGet, "/targets/"+targetID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "success", body["status"])
	record := body["target_record"].(map[string]any)
	assert.Equal(t, float64(4), record["tracking_rating"])
	assert.Equal(t, "landmark", record["name"])
}

func TestTargetList(t *testing.T) {
	h := newHarness(t, time.Minute)
	first := createTarget(t, h, "one", testPNG(t, 1))
	second := createTarget(t, h, "two", testPNG(t, 2))

	recorder := h.do(t, http.MethodGet, "/targets", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "Success", body["result_code"])
	results := body["results"].([]any)
	assert.ElementsMatch(t, []any{first, second}, results)
}

func TestUpdateTarget_RequiresSuccessStatus(t *testing.T) {
	h := newHarness(t, time.Minute)
	targetID := createTarget(t, h, "landmark", testPNG(t, 1))

	body := []byte(`{"name":"renamed"}`)
	recorder := h.do(t, http.MethodPut, "/targets/"+targetID, body)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, "TargetStatusNotSuccess", decodeBody(t, recorder)["result_code"])
}

func TestUpdateTarget_Rename(t *testing.T) {
	h := newHarness(t, 0)
	targetID := createTarget(t, h, "landmark", testPNG(t, 1))

	recorder := h.do(t, http.MethodPut, "/targets/"+targetID, []byte(`{"name":"renamed"}`))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "Success", decodeBody(t, recorder)["result_code"])

	recorder = h.do(t, http.MethodGet, "/targets/"+targetID, nil)
	record := decodeBody(t, recorder)["target_record"].(map[string]any)
	assert.Equal(t, "renamed", record["name"])
}

func TestUpdateTarget_NullActiveFlag(t *testing.T) {
	h := newHarness(t, 0)
	targetID := createTarget(t, h, "landmark", testPNG(t, 1))

	recorder := h.do(t, http.MethodPut, "/targets/"+targetID, []byte(`{"active_flag":null}`))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Fail", decodeBody(t, recorder)["result_code"])
}

func TestDeleteTarget_Processing(t *testing.T) {
	h := newHarness(t, time.Minute)
	targetID := createTarget(t, h, "landmark", testPNG(t, 1))

	recorder := h.do(t, http.MethodDelete, "/targets/"+targetID, nil)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, "TargetStatusProcessing", decodeBody(t, recorder)["result_code"])
}

func TestDeleteTarget_ThenInvisible(t *testing.T) {
	h := newHarness(t, 0)
	targetID := createTarget(t, h, "landmark", testPNG(t, 1))

	recorder := h.do(t, http.MethodDelete, "/targets/"+targetID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "Success", decodeBody(t, recorder)["result_code"])

	// Management stops seeing the target immediately, even inside the query
	// grace window.
	recorder = h.do(t, http.MethodGet, "/targets/"+targetID, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestDatabaseSummary(t *testing.T) {
	h := newHarness(t, 0)
	createTarget(t, h, "one", testPNG(t, 1))
	createTarget(t, h, "two", testPNG(t, 2))

	recorder := h.do(t, http.MethodGet, "/summary", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "db", body["name"])
	assert.Equal(t, float64(2), body["active_images"])
	assert.Equal(t, float64(0), body["processing_images"])
	assert.Equal(t, float64(1000), body["target_quota"])
	assert.Equal(t, float64(100000), body["request_quota"])
	assert.Equal(t, float64(0), body["request_usage"])
}

func TestTargetSummary(t *testing.T) {
	h := newHarness(t, 0)
	targetID := createTarget(t, h, "landmark", testPNG(t, 1))

	recorder := h.do(t, http.MethodGet, "/summary/"+targetID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "db", body["database_name"])
	assert.Equal(t, "landmark", body["target_name"])
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), body["upload_date"])
}

func TestCheckDuplicates(t *testing.T) {
	h := newHarness(t, 0)
	shared := testPNG(t, 1)
	first := createTarget(t, h, "one", shared)
	second := createTarget(t, h, "two", shared)
	createTarget(t, h, "three", testPNG(t, 2))

	recorder := h.do(t, http.MethodGet, "/duplicates/"+first, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, []any{second}, body["similar_targets"])
}

func TestProjectInactive(t *testing.T) {
	h := newHarness(t, 0)
	targetID := createTarget(t, h, "landmark", testPNG(t, 1))

	inactive, err := h.store.CreateDatabase(&vuforia.Database{
		Name:  "inactive-db",
		State: vuforia.StateProjectInactive,
	})
	require.NoError(t, err)

	date := time.Now().UTC().Format(http.TimeFormat)

	// Writes are blocked outright.
	body := createBody(t, "x", testPNG(t, 2))
	recorder := h.doSigned(t, http.MethodPost, "/targets", body,
		inactive.ServerAccessKey, inactive.ServerSecretKey, date)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, "ProjectInactive", decodeBody(t, recorder)["result_code"])

	// Plain reads still work.
	recorder = h.doSigned(t, http.MethodGet, "/targets", nil,
		inactive.ServerAccessKey, inactive.ServerSecretKey, date)
	assert.Equal(t, http.StatusOK, recorder.Code)

	// Duplicate detection is the one read that stays blocked.
	recorder = h.doSigned(t, http.MethodGet, "/duplicates/"+targetID, nil,
		inactive.ServerAccessKey, inactive.ServerSecretKey, date)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, "ProjectInactive", decodeBody(t, recorder)["result_code"])
}
