package progress

import (
	"context"
	"time"
)

// Stage labels a pipeline step as reported to pollers.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageStarting    Stage = "starting"
	StageAnalyzing   Stage = "analyzing"
	StageGenerating  Stage = "generating"
	StageDownloading Stage = "downloading"
	StageFinalizing  Stage = "finalizing"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

// Entry is the current progress of one dream. Updates overwrite it.
type Entry struct {
	Stage            Stage     `json:"stage"`
	Percent          int       `json:"progress"`
	RemainingMinutes int       `json:"remaining_minutes"`
	Message          string    `json:"message"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Tracker stores the latest Entry per dream id. Implementations must be safe
// for one writer per key and any number of concurrent readers.
type Tracker interface {
	Update(ctx context.Context, dreamID int64, entry Entry) error
	// Read returns the entry and whether one exists.
	Read(ctx context.Context, dreamID int64) (Entry, bool, error)
}
