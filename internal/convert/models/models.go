package models

// Conversion modes reported to clients.
const (
	ModeSingle = "single"
	ModeMulti  = "multi"

	StatusSuccess = "success"
)

// Per-file failure codes.
const (
	FailureTooLarge    = "FILE_TOO_LARGE"
	FailureRejected    = "PROVIDER_REJECTED"
	FailureUnavailable = "PROVIDER_UNAVAILABLE"
	FailureInternal    = "CONVERSION_FAILED"
)

// File is one uploaded file to convert.
type File struct {
	Filename string
	Data     []byte
	Size     int64
}

type Request struct {
	Files        []File
	TargetFormat string
}

// URLRequest is the JSON body of the convert-by-URL endpoint.
type URLRequest struct {
	URLs         []string `json:"urls"`
	TargetFormat string   `json:"targetFormat"`
}

// Result is the success body for both modes. DownloadURL is set in single
// mode, ZipURL and Failures in multi mode.
type Result struct {
	Status      string    `json:"status"`
	Mode        string    `json:"mode"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	ZipURL      string    `json:"zipUrl,omitempty"`
	Meta        any       `json:"meta"`
	Failures    []Failure `json:"failures,omitempty"`
}

type SingleMeta struct {
	OriginalName       string `json:"originalName"`
	ConvertedName      string `json:"convertedName"`
	ConvertedSizeBytes int64  `json:"convertedSizeBytes"`
	OutputFormat       string `json:"outputFormat"`
}

type MultiMeta struct {
	TotalFiles  int `json:"totalFiles"`
	FailedFiles int `json:"failedFiles"`
}

// Failure reports one file that could not be converted in a multi-file request.
type Failure struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}
