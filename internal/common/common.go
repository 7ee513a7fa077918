package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey    = "X-API-Key" // #nosec G101 - header name constant, not a credential
	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html; charset=utf-8"
)

// API paths
const (
	PathHealthz     = "/healthz"
	PathUploads     = "/api/uploads"
	PathGenerate    = "/api/generateDescriptions"
	PathGenerations = "/api/generations"
	PathUploadFiles = "/uploads/"
)

// Page paths
const (
	PathRoot        = "/"
	PathFormImage   = "/form/image"
	PathFormRemove  = "/form/image/remove"
	PathFormToggle  = "/form/languages/"
	PathFormSubmit  = "/form/generate"
	SessionCookie   = "pdg_session"
	FormFieldFile   = "file"
	DefaultPageSize = 20
)

// Defaults and limits
const (
	DefaultConcurrency  = 3
	SQLiteBusyTimeoutMS = 5000
	ErrorSnippetLimit   = 400
)

// MIME types
const (
	MimeImagePNG  = "image/png"
	MimeImageJPEG = "image/jpeg"
	MimeImageGIF  = "image/gif"
	MimeImageWEBP = "image/webp"
)

// Subdirectory names
const (
	UploadsDirName = "uploads"
)

// Generation outcome strings
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
