package progress

import (
	"dreamecho/internal/domain"
	"dreamecho/internal/messages"
)

// Snapshot is what pollers see: the live entry when one is usable,
// otherwise a best-effort entry derived from the persisted status.
type Snapshot struct {
	Entry
	// Failed is set when the dream failed; pollers surface it as an error.
	Failed bool
	// Live is false when the entry was synthesized.
	Live bool
}

// Fallback synthesizes an entry for a dream with no live progress, e.g.
// after a restart.
func Fallback(status domain.DreamStatus, errMessage string) Entry {
	switch status {
	case domain.DreamStatusComplete:
		return Entry{Stage: StageComplete, Percent: 100, RemainingMinutes: 0, Message: messages.Complete}
	case domain.DreamStatusFailed:
		msg := errMessage
		if msg == "" {
			msg = messages.ProcessingFailed
		}
		return Entry{Stage: StageFailed, Percent: 0, RemainingMinutes: 0, Message: msg}
	case domain.DreamStatusProcessing:
		return Entry{Stage: StageAnalyzing, Percent: 10, RemainingMinutes: 15, Message: messages.Analyzing}
	default:
		return Entry{Stage: StageQueued, Percent: 0, RemainingMinutes: 20, Message: messages.Queued}
	}
}

// Resolve picks between the live entry and the fallback. The persisted
// status is authoritative: a live entry that disagrees with a terminal
// status is ignored.
func Resolve(d *domain.Dream, live Entry, ok bool) Snapshot {
	if ok && agrees(d.Status, live.Stage) {
		return Snapshot{
			Entry:  live,
			Failed: live.Stage == StageFailed || d.Status == domain.DreamStatusFailed,
			Live:   true,
		}
	}
	return Snapshot{
		Entry:  Fallback(d.Status, d.ErrorMessage),
		Failed: d.Status == domain.DreamStatusFailed,
	}
}

func agrees(status domain.DreamStatus, stage Stage) bool {
	switch status {
	case domain.DreamStatusComplete:
		return stage == StageComplete
	case domain.DreamStatusFailed:
		return stage == StageFailed
	default:
		return true
	}
}
