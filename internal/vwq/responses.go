package vwq

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vumock/internal/vuforia"
)

// queryError is a protocol failure on the query API. Unlike the management
// API, several failures here answer with bare text bodies rather than the
// JSON envelope.
type queryError struct {
	status      int
	contentType string
	body        string
}

func (e *queryError) Error() string { return e.body }

func plainError(status int, body string) *queryError {
	return &queryError{status: status, contentType: "text/plain", body: body}
}

func envelopeError(status int, code vuforia.ResultCode) *queryError {
	body := fmt.Sprintf(`{"transaction_id":%q,"result_code":%q}`, vuforia.NewID(), code)
	return &queryError{status: status, contentType: "application/json", body: body}
}

var (
	errDateMissing          = plainError(http.StatusBadRequest, "Date header required.")
	errDateMalformed        = plainError(http.StatusUnauthorized, "Malformed date header.")
	errAuthMissing          = plainError(http.StatusUnauthorized, "Authorization header missing.")
	errAuthMalformed        = plainError(http.StatusUnauthorized, "Malformed authorization header.")
	errNoImage              = plainError(http.StatusBadRequest, "No image.")
	errUnknownParams        = plainError(http.StatusBadRequest, "Unknown parameters in the request.")
	errUnsupportedMediaType = &queryError{status: http.StatusUnsupportedMediaType}
	errNoBoundary           = plainError(http.StatusInternalServerError,
		"RESTEASY007550: Unable to get boundary for multipart")
)

func errBadImage() *queryError {
	return envelopeError(http.StatusUnprocessableEntity, vuforia.ResultBadImage)
}

// entityTooLargeBody mimics the front proxy rejecting an oversized upload
// before it ever reaches the application.
const entityTooLargeBody = "<html>\r\n" +
	"<head><title>413 Request Entity Too Large</title></head>\r\n" +
	"<body>\r\n" +
	"<center><h1>413 Request Entity Too Large</h1></center>\r\n" +
	"<hr><center>nginx</center>\r\n" +
	"</body>\r\n" +
	"</html>\r\n"

var errImageTooLarge = &queryError{
	status:      http.StatusRequestEntityTooLarge,
	contentType: "text/html",
	body:        entityTooLargeBody,
}

func errAuthenticationFailure() *queryError {
	return envelopeError(http.StatusUnauthorized, vuforia.ResultAuthenticationFailure)
}

func errRequestTimeTooSkewed() *queryError {
	return envelopeError(http.StatusForbidden, vuforia.ResultRequestTimeTooSkewed)
}

func errInactiveProject() *queryError {
	return envelopeError(http.StatusForbidden, vuforia.ResultInactiveProject)
}

func errInvalidMaxNumResults(given string) *queryError {
	return plainError(http.StatusBadRequest, fmt.Sprintf(
		"Invalid value '%s' in form data part 'max_result'. "+
			"Expecting integer value in range from 1 to 50 (inclusive).", given))
}

func errMaxNumResultsOutOfRange(given string) *queryError {
	return plainError(http.StatusBadRequest, fmt.Sprintf(
		"Integer out of range (%s) in form data part 'max_result'. "+
			"Accepted range is from 1 to 50 (inclusive).", given))
}

func errInvalidIncludeTargetData(given string) *queryError {
	return plainError(http.StatusBadRequest, fmt.Sprintf(
		"Invalid value '%s' in form data part 'include_target_data'. "+
			"Expecting one of the (unquoted) string values 'all', 'none' or 'top'.", given))
}

// matchProcessingBody is the fixed server-error page returned when a query
// matches a target that is processing or recently deleted. The real service
// surfaces this as an opaque Jetty error page; clients detect it by the
// status code.
const matchProcessingBody = `<html>
<head>
<meta http-equiv="Content-Type" content="text/html;charset=utf-8"/>
<title>Error 500 HTTP Server Error</title>
</head>
<body><h2>HTTP ERROR 500</h2>
<p>Problem accessing /v1/query. Reason:
<pre>    HTTP Server Error</pre></p>
</body>
</html>
`

var errMatchProcessing = &queryError{
	status:      http.StatusInternalServerError,
	contentType: "text/html",
	body:        matchProcessingBody,
}

// queryResult is one ranked entry in a successful response.
type queryResult struct {
	TargetID   string           `json:"target_id"`
	TargetData *queryTargetData `json:"target_data,omitempty"`
}

type queryTargetData struct {
	TargetTimestamp     int64   `json:"target_timestamp"`
	Name                string  `json:"name"`
	ApplicationMetadata *string `json:"application_metadata"`
}

type queryResponse struct {
	ResultCode vuforia.ResultCode `json:"result_code"`
	Results    []queryResult      `json:"results"`
	QueryID    string             `json:"query_id"`
}

func writeQueryError(c *gin.Context, err *queryError) {
	c.Header("Date", time.Now().UTC().Format(http.TimeFormat))
	if err.contentType != "" {
		c.Header("Content-Type", err.contentType)
	}
	c.String(err.status, err.body)
}
