package worker

import "errors"

// ErrReplayInProgress is returned when a replay pass is already running.
var ErrReplayInProgress = errors.New("replay already in progress")
