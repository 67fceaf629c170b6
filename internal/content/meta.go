package content

import "time"

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceSeed    Source = "seed"
	SourceDir     Source = "dir"
	SourceS3      Source = "s3"
)

type Meta struct {
	Version  string    `json:"version,omitempty"`
	Hash     string    `json:"hash,omitempty"`
	Source   Source    `json:"source,omitempty"`
	LoadedAt time.Time `json:"loaded_at,omitempty"`
}
