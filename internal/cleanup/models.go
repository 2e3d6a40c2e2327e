package cleanup

import (
	"time"

	"imgconvert/internal/provider"
)

// Config controls which resources are swept and how fast.
type Config struct {
	Interval         time.Duration
	TTL              time.Duration
	Prefix           string
	DryRun           bool
	BatchSize        int
	BatchesPerSecond float64
}

// Candidate is a resource old enough to delete.
type Candidate struct {
	PublicID     string                `json:"publicId"`
	ResourceType provider.ResourceType `json:"resourceType"`
	SecureURL    string                `json:"secureUrl"`
	CreatedAt    time.Time             `json:"createdAt"`
	Bytes        int64                 `json:"bytes"`
}

// Result summarizes one sweep. In a dry run Deleted and Failed stay zero.
type Result struct {
	DryRun     bool        `json:"dryRun"`
	Deleted    int         `json:"deleted"`
	Failed     int         `json:"failed"`
	Candidates []Candidate `json:"candidates"`
	Errors     []string    `json:"errors"`
}
