// Package transfer moves every message of a source folder to a target
// folder, then purges the source trash.
package transfer

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Warky-Devs/WkMailMove/internal/config"
	moverrors "github.com/Warky-Devs/WkMailMove/internal/errors"
	"github.com/Warky-Devs/WkMailMove/internal/logger"
	"github.com/Warky-Devs/WkMailMove/internal/mailbox"
)

type Option func(*Engine)

// WithRecorder journals every run and message outcome.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithArchiver copies every moved message before it is marked on the source.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithConnector replaces the IMAP connector.
func WithConnector(c Connector) Option {
	return func(e *Engine) { e.connect = c }
}

type Engine struct {
	source   config.Endpoint
	target   config.Endpoint
	log      logger.Logger
	connect  Connector
	recorder Recorder
	archiver Archiver

	sessions *Sessions
	guard    *Guard
	state    atomic.Int32
	running  atomic.Bool
	runID    string
}

func NewEngine(source, target config.Endpoint, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		target:   target,
		log:      log,
		sessions: &Sessions{},
	}
	e.connect = IMAPConnector(log)
	for _, opt := range opts {
		opt(e)
	}
	e.guard = NewGuard(e.sessions, log)
	return e
}

// Guard returns the guard that owns the sessions of this engine.
func (e *Engine) Guard() *Guard { return e.guard }

func (e *Engine) State() RunState { return RunState(e.state.Load()) }

func (e *Engine) setState(s RunState) {
	prev := RunState(e.state.Swap(int32(s)))
	if prev != s {
		e.log.Debugf("Run state: %s -> %s", prev, s)
	}
}

// Run performs one transfer. The returned error is a startup fault when
// nothing could be transferred, or an interrupt fault when ctx was canceled
// mid-run; per-message and purge faults are only logged and counted.
func (e *Engine) Run(ctx context.Context) (res *Result, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, errors.New("engine already ran")
	}

	res = &Result{}
	defer func() {
		r := recover()
		if r != nil || err != nil {
			e.setState(Aborting)
		}
		res.Interrupted = res.Interrupted || moverrors.IsInterrupt(err)
		res.Aborted = r != nil || moverrors.IsStartup(err)
		e.guard.Teardown()
		e.setState(Done)
		res.State = Done
		e.finish(res)
		if r != nil {
			panic(r)
		}
	}()

	e.setState(SourceConnecting)
	source, err := e.open(ctx, RoleSource, e.source)
	if err != nil {
		return res, e.fault(ctx, "open source", err)
	}
	e.setState(SourceReady)

	e.setState(TargetConnecting)
	target, err := e.open(ctx, RoleTarget, e.target)
	if err != nil {
		return res, e.fault(ctx, "open target", err)
	}
	e.setState(TargetReady)

	e.start(ctx, res)

	e.setState(Transferring)
	seqs, err := source.Search(ctx)
	if err != nil {
		return res, e.fault(ctx, "search source", err)
	}
	res.Found = len(seqs)
	e.log.Infof("%d messages found in %s", len(seqs), e.source.Folder)

	for _, seq := range seqs {
		if ctx.Err() != nil {
			break
		}
		e.transfer(ctx, source, target, seq, res)
	}
	if ctx.Err() != nil {
		res.Interrupted = true
		e.log.Infof("%d messages moved", res.Moved)
		return res, moverrors.Interrupt("transfer", ctx.Err())
	}

	// Expunge the working folder before leaving it, so a run that dies
	// during the purge can be started again without duplicating messages.
	if err := source.Expunge(ctx); err != nil {
		e.log.Errorf("%v", moverrors.Purge("commit "+e.source.Folder, err))
	} else {
		e.setState(Purging)
		e.purge(ctx, source, res)
	}

	e.log.Infof("%d messages moved", res.Moved)
	if ctx.Err() != nil {
		res.Interrupted = true
		return res, moverrors.Interrupt("purge", ctx.Err())
	}
	return res, nil
}

// open connects, authenticates and selects the working folder. The session
// is handed to the guard as soon as the connection exists.
func (e *Engine) open(ctx context.Context, role string, endpoint config.Endpoint) (Session, error) {
	e.log.Infof("Connecting to %s server: %s with user: %s", role, endpoint.Address(), endpoint.Username)
	s, err := e.connect(ctx, role, endpoint)
	if err != nil {
		return nil, err
	}
	e.sessions.set(role, s)

	if err := s.Authenticate(ctx); err != nil {
		return nil, err
	}

	if e.log.Enabled(zapcore.DebugLevel) {
		if folders, err := s.ListFolders(ctx); err != nil {
			e.log.Debugf("Listing folders on %s: %v", role, err)
		} else {
			names := make([]string, 0, len(folders))
			for _, f := range folders {
				names = append(names, f.Name)
			}
			e.log.Debugf("Available folders on %s:\n%s", role, strings.Join(names, "\n"))
		}
	}

	e.log.Infof("Selecting folder on %s: %s", role, endpoint.Folder)
	if _, err := s.SelectFolder(ctx, endpoint.Folder); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) fault(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return moverrors.Interrupt(op, err)
	}
	return moverrors.Startup(op, err)
}

// transfer moves one message. The source copy is marked for deletion only
// after the target confirmed the append.
func (e *Engine) transfer(ctx context.Context, source, target Session, seq uint32, res *Result) {
	log := e.log.With(zap.Uint32("seq", seq))
	log.Infof("Fetching message: %d", seq)

	rec, err := source.Fetch(ctx, seq)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		res.Failed++
		log.ErrorMsg(moverrors.PerMessage("fetch", err).Error(), outcomeField(OutcomeFetchFailed))
		e.record(ctx, Outcome{Seq: seq, Kind: OutcomeFetchFailed, Detail: err.Error()})
		return
	}
	summary := rec.Summary()
	log = log.With(zap.String("message_id", summary.MessageID), zap.String("subject", summary.Subject))
	log.DebugMsg("Fetched message",
		zap.Stringer("flags", rec.Flags()),
		zap.String("internal_date", rec.Arrived().Format(time.RFC1123Z)),
		zap.Int("size", len(rec.Bytes())))

	log.Infof("Moving message to folder: %s", e.target.Folder)
	release := e.guard.Hold()
	defer release()
	appended := target.Append(ctx, e.target.Folder, rec)
	if !appended.OK() {
		if ctx.Err() != nil {
			return
		}
		res.Failed++
		kind := OutcomeAppendFailed
		if appended.Status == mailbox.AppendRejected {
			kind = OutcomeAppendRejected
		}
		log.ErrorMsg(moverrors.PerMessage("append", errors.Errorf("%s: %s", appended.Status, appended.Reason)).Error(),
			outcomeField(kind))
		e.record(ctx, Outcome{Seq: seq, Summary: summary, Kind: kind, Detail: appended.Reason})
		return
	}
	res.Moved++

	// the copy exists; mark the original even if the run is being interrupted
	err = source.MarkDeleted(context.WithoutCancel(ctx), seq)
	release()

	if e.archiver != nil {
		if err := e.archiver.Archive(ctx, e.source.Folder, rec); err != nil {
			log.WarnMsg("Archiving failed", zap.Error(err))
		}
	}
	if err != nil {
		log.ErrorMsg(moverrors.PerMessage("mark deleted", err).Error(), outcomeField(OutcomeMarkFailed))
		e.record(ctx, Outcome{Seq: seq, Summary: summary, Kind: OutcomeMarkFailed, Detail: err.Error()})
		return
	}
	log.InfoMsg("Message moved", outcomeField(OutcomeMoved), zap.String("folder", e.target.Folder))
	e.record(ctx, Outcome{Seq: seq, Summary: summary, Kind: OutcomeMoved})
}

func outcomeField(kind OutcomeKind) zap.Field {
	return zap.String("outcome", string(kind))
}

// purge marks every message in the source trash for deletion. It does not
// affect the tally.
func (e *Engine) purge(ctx context.Context, source Session, res *Result) {
	trash := e.source.Trash
	if trash == "" {
		return
	}
	if trash == e.source.Folder {
		e.log.Warnf("Trash folder %q is the working folder; not purging", trash)
		return
	}

	e.log.Infof("Selecting folder on source: %s", trash)
	state, err := source.SelectFolder(ctx, trash)
	if err != nil {
		e.log.Errorf("%v", moverrors.Purge("select "+trash, err))
		return
	}
	if state.Messages == 0 {
		return
	}
	e.log.Infof("Marking %d messages in %s as deleted", state.Messages, trash)
	if err := source.MarkAllDeleted(ctx); err != nil {
		e.log.Errorf("%v", moverrors.Purge("mark "+trash, err))
		return
	}
	res.Purged = int(state.Messages)
}

func (e *Engine) start(ctx context.Context, res *Result) {
	if e.recorder == nil {
		return
	}
	id, err := e.recorder.Start(ctx, e.source, e.target)
	if err != nil {
		e.log.Warnf("Journal: %v", err)
		return
	}
	e.runID = id
	res.RunID = id
}

func (e *Engine) record(ctx context.Context, o Outcome) {
	if e.recorder == nil || e.runID == "" {
		return
	}
	if o.At.IsZero() {
		o.At = time.Now()
	}
	if err := e.recorder.Record(context.WithoutCancel(ctx), e.runID, o); err != nil {
		e.log.Warnf("Journal: %v", err)
	}
}

func (e *Engine) finish(res *Result) {
	if e.recorder == nil || res.RunID == "" {
		return
	}
	if err := e.recorder.Finish(context.Background(), res.RunID, *res); err != nil {
		e.log.Warnf("Journal: %v", err)
	}
}
