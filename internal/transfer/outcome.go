package transfer

import (
	"context"
	"time"

	"github.com/Warky-Devs/WkMailMove/internal/config"
	"github.com/Warky-Devs/WkMailMove/internal/mailbox"
)

// OutcomeKind is what happened to one message.
type OutcomeKind string

const (
	OutcomeMoved          OutcomeKind = "moved"
	OutcomeFetchFailed    OutcomeKind = "fetch_failed"
	OutcomeAppendRejected OutcomeKind = "append_rejected"
	OutcomeAppendFailed   OutcomeKind = "append_failed"
	// OutcomeMarkFailed means the copy exists on the target but the source
	// message was not marked and will be transferred again next run.
	OutcomeMarkFailed OutcomeKind = "mark_failed"
)

type Outcome struct {
	Seq     uint32
	Summary mailbox.Summary
	Kind    OutcomeKind
	Detail  string
	At      time.Time
}

// Result summarizes a run.
type Result struct {
	RunID  string
	Found  int
	Moved  int
	Failed int
	// Purged is the number of trash messages marked for deletion.
	Purged      int
	Interrupted bool
	// Aborted is set when the run failed before transferring.
	Aborted bool
	State   RunState
}

// Recorder keeps an audit trail of runs. Recording errors never affect the
// transfer.
type Recorder interface {
	Start(ctx context.Context, source, target config.Endpoint) (string, error)
	Record(ctx context.Context, runID string, o Outcome) error
	Finish(ctx context.Context, runID string, res Result) error
}

// Archiver keeps a local copy of every message moved.
type Archiver interface {
	Archive(ctx context.Context, folder string, rec *mailbox.Record) error
}
