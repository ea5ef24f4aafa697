package vuforia

// ResultCode strings returned by the emulated service. The exact vocabulary
// is part of the wire contract; client libraries switch on these values.
type ResultCode string

const (
	ResultSuccess                ResultCode = "Success"
	ResultTargetCreated          ResultCode = "TargetCreated"
	ResultAuthenticationFailure  ResultCode = "AuthenticationFailure"
	ResultRequestTimeTooSkewed   ResultCode = "RequestTimeTooSkewed"
	ResultTargetNameExist        ResultCode = "TargetNameExist"
	ResultUnknownTarget          ResultCode = "UnknownTarget"
	ResultBadImage               ResultCode = "BadImage"
	ResultImageTooLarge          ResultCode = "ImageTooLarge"
	ResultMetadataTooLarge       ResultCode = "MetadataTooLarge"
	ResultDateRangeError         ResultCode = "DateRangeError"
	ResultFail                   ResultCode = "Fail"
	ResultTargetStatusProcessing ResultCode = "TargetStatusProcessing"
	ResultTargetStatusNotSuccess ResultCode = "TargetStatusNotSuccess"
	ResultProjectInactive        ResultCode = "ProjectInactive"
	ResultInactiveProject        ResultCode = "InactiveProject"
	ResultRequestQuotaReached    ResultCode = "RequestQuotaReached"
	ResultTooManyRequests        ResultCode = "TooManyRequests"
)
