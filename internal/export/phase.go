package export

import (
	"sync/atomic"
	"time"
)

// Phase is one step of an export run.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseReadingCatalog
	PhaseClearingProgress
	PhaseGatheringPriorState
	PhaseGatheringExistingArtworkFiles
	PhaseDroppingTables
	PhaseCreatingTables
	PhaseExportingGenres
	PhaseExportingArtists
	PhaseExportingAlbums
	PhaseExportingTracks
	PhaseExportingPlaylists
	PhaseFinalizing
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:                          "idle",
	PhaseReadingCatalog:                "reading_catalog",
	PhaseClearingProgress:              "clearing_progress",
	PhaseGatheringPriorState:           "gathering_prior_state",
	PhaseGatheringExistingArtworkFiles: "gathering_existing_artwork_files",
	PhaseDroppingTables:                "dropping_tables",
	PhaseCreatingTables:                "creating_tables",
	PhaseExportingGenres:               "exporting_genres",
	PhaseExportingArtists:              "exporting_artists",
	PhaseExportingAlbums:               "exporting_albums",
	PhaseExportingTracks:               "exporting_tracks",
	PhaseExportingPlaylists:            "exporting_playlists",
	PhaseFinalizing:                    "finalizing",
	PhaseDone:                          "done",
	PhaseFailed:                        "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// PhaseTiming records how long one phase took.
type PhaseTiming struct {
	Phase    Phase
	Duration time.Duration
}

// Progress is the side channel an export publishes to. One goroutine writes;
// any goroutine may read a Snapshot at any time.
type Progress struct {
	phase     atomic.Int32
	processed atomic.Int64
	total     atomic.Int64
}

// ProgressSnapshot is a point-in-time read of Progress.
type ProgressSnapshot struct {
	Phase     Phase
	Processed int64
	Total     int64
}

func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Phase:     Phase(p.phase.Load()),
		Processed: p.processed.Load(),
		Total:     p.total.Load(),
	}
}

func (p *Progress) reset(total int64) {
	p.processed.Store(0)
	p.total.Store(total)
}

func (p *Progress) setPhase(phase Phase) {
	p.phase.Store(int32(phase))
}
