package vws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vumock/internal/vuforia"
)

// resultError is a protocol-level failure: a fixed HTTP status plus a result
// code from the emulated service's vocabulary.
type resultError struct {
	status int
	code   vuforia.ResultCode
}

func (e *resultError) Error() string { return string(e.code) }

var (
	errAuthenticationFailure  = &resultError{http.StatusUnauthorized, vuforia.ResultAuthenticationFailure}
	errRequestTimeTooSkewed   = &resultError{http.StatusForbidden, vuforia.ResultRequestTimeTooSkewed}
	errProjectInactive        = &resultError{http.StatusForbidden, vuforia.ResultProjectInactive}
	errUnknownTarget          = &resultError{http.StatusNotFound, vuforia.ResultUnknownTarget}
	errTargetNameExist        = &resultError{http.StatusForbidden, vuforia.ResultTargetNameExist}
	errBadImage               = &resultError{http.StatusUnprocessableEntity, vuforia.ResultBadImage}
	errImageTooLarge          = &resultError{http.StatusUnprocessableEntity, vuforia.ResultImageTooLarge}
	errMetadataTooLarge       = &resultError{http.StatusUnprocessableEntity, vuforia.ResultMetadataTooLarge}
	errTargetStatusNotSuccess = &resultError{http.StatusForbidden, vuforia.ResultTargetStatusNotSuccess}
	errTargetStatusProcessing = &resultError{http.StatusForbidden, vuforia.ResultTargetStatusProcessing}
	errBadRequestFail         = &resultError{http.StatusBadRequest, vuforia.ResultFail}
	errInternalFail           = &resultError{http.StatusInternalServerError, vuforia.ResultFail}
)

// envelope is the base response body. transaction_id is freshly generated
// per response, like the real service.
type envelope struct {
	TransactionID string             `json:"transaction_id"`
	ResultCode    vuforia.ResultCode `json:"result_code"`
}

func newEnvelope(code vuforia.ResultCode) envelope {
	return envelope{TransactionID: vuforia.NewID(), ResultCode: code}
}

type targetCreatedResponse struct {
	envelope
	TargetID string `json:"target_id"`
}

type targetRecord struct {
	TargetID       string  `json:"target_id"`
	ActiveFlag     bool    `json:"active_flag"`
	Name           string  `json:"name"`
	Width          float64 `json:"width"`
	TrackingRating int     `json:"tracking_rating"`
	RecoRating     string  `json:"reco_rating"`
}

type getTargetResponse struct {
	ResultCode    vuforia.ResultCode `json:"result_code"`
	TransactionID string             `json:"transaction_id"`
	TargetRecord  targetRecord       `json:"target_record"`
	Status        vuforia.Status     `json:"status"`
}

type targetListResponse struct {
	envelope
	Results []string `json:"results"`
}

type duplicatesResponse struct {
	envelope
	SimilarTargets []string `json:"similar_targets"`
}

type databaseSummaryResponse struct {
	ResultCode         vuforia.ResultCode `json:"result_code"`
	TransactionID      string             `json:"transaction_id"`
	Name               string             `json:"name"`
	ActiveImages       int                `json:"active_images"`
	InactiveImages     int                `json:"inactive_images"`
	FailedImages       int                `json:"failed_images"`
	TargetQuota        int                `json:"target_quota"`
	TotalRecos         int                `json:"total_recos"`
	CurrentMonthRecos  int                `json:"current_month_recos"`
	PreviousMonthRecos int                `json:"previous_month_recos"`
	ProcessingImages   int                `json:"processing_images"`
	RecoThreshold      int                `json:"reco_threshold"`
	RequestQuota       int                `json:"request_quota"`
	RequestUsage       int                `json:"request_usage"`
}

type targetSummaryResponse struct {
	Status             vuforia.Status     `json:"status"`
	TransactionID      string             `json:"transaction_id"`
	ResultCode         vuforia.ResultCode `json:"result_code"`
	DatabaseName       string             `json:"database_name"`
	TargetName         string             `json:"target_name"`
	UploadDate         string             `json:"upload_date"`
	ActiveFlag         bool               `json:"active_flag"`
	TrackingRating     int                `json:"tracking_rating"`
	TotalRecos         int                `json:"total_recos"`
	CurrentMonthRecos  int                `json:"current_month_recos"`
	PreviousMonthRecos int                `json:"previous_month_recos"`
}

// Fixed per-database quota numbers the real service reports.
const (
	targetQuota   = 1000
	requestQuota  = 100000
	recoThreshold = 1000
)

func writeJSON(c *gin.Context, status int, body any) {
	c.Header("Date", time.Now().UTC().Format(http.TimeFormat))
	c.JSON(status, body)
}

func writeResultError(c *gin.Context, err *resultError) {
	writeJSON(c, err.status, newEnvelope(err.code))
}
