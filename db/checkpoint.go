package db

import (
	"log"

	"github.com/pkg/errors"
)

// CheckpointMode selects how aggressively the WAL is flushed.
type CheckpointMode string

// WAL checkpoint modes, weakest to strongest.
const (
	CheckpointPassive  CheckpointMode = "PASSIVE"
	CheckpointFull     CheckpointMode = "FULL"
	CheckpointRestart  CheckpointMode = "RESTART"
	CheckpointTruncate CheckpointMode = "TRUNCATE"
)

// CheckpointResult reports the outcome of one checkpoint call.
// FramesRemaining is the WAL frame count not yet transferred, i.e. log
// size minus frames checkpointed.
type CheckpointResult struct {
	FramesCheckpointed int64
	FramesRemaining    int64
}

// Checkpoint runs a WAL checkpoint in the given mode on the writer
// connection.
func (d *DB) Checkpoint(mode CheckpointMode) (CheckpointResult, error) {
	switch mode {
	case CheckpointPassive, CheckpointFull, CheckpointRestart, CheckpointTruncate:
	default:
		return CheckpointResult{}, errors.Errorf("unknown checkpoint mode %q", mode)
	}

	var busy, logFrames, checkpointed int64
	err := d.writer.QueryRow(`PRAGMA wal_checkpoint(` + string(mode) + `)`).
		Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return CheckpointResult{}, errors.Wrapf(err, "checkpoint %s failed", mode)
	}
	// With no WAL present both counts come back -1.
	if logFrames < 0 {
		logFrames = 0
	}
	if checkpointed < 0 {
		checkpointed = 0
	}
	return CheckpointResult{
		FramesCheckpointed: checkpointed,
		FramesRemaining:    logFrames - checkpointed,
	}, nil
}

// StartupCheckpoint issues the TRUNCATE checkpoint that flushes stale
// WAL frames left by a previous run. Failure is logged, not fatal.
func (d *DB) StartupCheckpoint() {
	res, err := d.Checkpoint(CheckpointTruncate)
	if err != nil {
		log.Println("Startup checkpoint failed:", err)
		return
	}
	log.Printf("Startup checkpoint: %d frames flushed, %d remaining",
		res.FramesCheckpointed, res.FramesRemaining)
}
