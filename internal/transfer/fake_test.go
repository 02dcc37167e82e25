package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Warky-Devs/WkMailMove/internal/config"
	moverrors "github.com/Warky-Devs/WkMailMove/internal/errors"
	"github.com/Warky-Devs/WkMailMove/internal/mailbox"
)

// callLog records the commands of both fake sessions in issue order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) index(call string) int {
	for i, c := range l.all() {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeSession struct {
	role string
	log  *callLog

	mu        sync.Mutex
	state     mailbox.State
	folder    string
	folders   map[string]int
	teardowns int

	authErr     error
	selectErr   map[string]error
	searchErr   error
	fetchErr    map[uint32]error
	appendRes   map[uint32]mailbox.AppendResult
	markErr     error
	expungeErr  error
	onFetch     func(seq uint32)
	onAppend    func(seq uint32)
	appended    []*mailbox.Record
	markedSeqs  []uint32
	markAllRuns int
}

func newFakeSession(role string, log *callLog) *fakeSession {
	return &fakeSession{
		role:      role,
		log:       log,
		state:     mailbox.Connected,
		folders:   map[string]int{},
		selectErr: map[string]error{},
		fetchErr:  map[uint32]error{},
		appendRes: map[uint32]mailbox.AppendResult{},
	}
}

func (f *fakeSession) Role() string { return f.role }

func (f *fakeSession) State() mailbox.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Authenticate(ctx context.Context) error {
	f.log.add("%s auth", f.role)
	if f.authErr != nil {
		return f.authErr
	}
	f.mu.Lock()
	f.state = mailbox.Authenticated
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) ListFolders(ctx context.Context) ([]mailbox.FolderInfo, error) {
	var out []mailbox.FolderInfo
	for name := range f.folders {
		out = append(out, mailbox.FolderInfo{Name: name})
	}
	return out, nil
}

func (f *fakeSession) SelectFolder(ctx context.Context, name string) (*mailbox.FolderState, error) {
	f.log.add("%s select %s", f.role, name)
	if err := f.selectErr[name]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = mailbox.FolderSelected
	f.folder = name
	return &mailbox.FolderState{Name: name, Messages: uint32(f.folders[name])}, nil
}

func (f *fakeSession) Search(ctx context.Context) ([]uint32, error) {
	f.log.add("%s search", f.role)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	seqs := make([]uint32, 0, f.folders[f.folder])
	for i := 1; i <= f.folders[f.folder]; i++ {
		seqs = append(seqs, uint32(i))
	}
	return seqs, nil
}

func (f *fakeSession) Fetch(ctx context.Context, seq uint32) (*mailbox.Record, error) {
	f.log.add("%s fetch %d", f.role, seq)
	if f.onFetch != nil {
		f.onFetch(seq)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.fetchErr[seq]; err != nil {
		return nil, err
	}
	raw := fmt.Sprintf("Subject: message %d\r\nMessage-Id: <%d@example.org>\r\n\r\nbody\r\n", seq, seq)
	return mailbox.NewRecord(seq, []byte(raw), []string{`\Seen`}, time.Unix(int64(seq), 0)), nil
}

func (f *fakeSession) Append(ctx context.Context, folder string, rec *mailbox.Record) mailbox.AppendResult {
	f.log.add("%s append %d", f.role, rec.Seq())
	if f.onAppend != nil {
		f.onAppend(rec.Seq())
	}
	if res, ok := f.appendRes[rec.Seq()]; ok {
		return res
	}
	f.mu.Lock()
	f.appended = append(f.appended, rec)
	f.mu.Unlock()
	return mailbox.AppendResult{Status: mailbox.AppendOK}
}

func (f *fakeSession) MarkDeleted(ctx context.Context, seqs ...uint32) error {
	f.log.add("%s mark %v", f.role, seqs)
	if f.markErr != nil {
		return f.markErr
	}
	if f.State() == mailbox.Closed {
		return moverrors.ErrSessionClosed
	}
	f.mu.Lock()
	f.markedSeqs = append(f.markedSeqs, seqs...)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) MarkAllDeleted(ctx context.Context) error {
	f.log.add("%s mark-all %s", f.role, f.folder)
	f.mu.Lock()
	f.markAllRuns++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Expunge(ctx context.Context) error {
	f.log.add("%s expunge %s", f.role, f.folder)
	return f.expungeErr
}

func (f *fakeSession) Teardown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	if f.state == mailbox.Closed {
		return nil
	}
	f.log.add("%s teardown %s", f.role, f.state)
	f.state = mailbox.Closed
	return nil
}

func (f *fakeSession) teardownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teardowns
}

// fakeConnector hands out the prepared sessions by role.
func fakeConnector(sessions map[string]*fakeSession, connectErr map[string]error) Connector {
	return func(ctx context.Context, role string, endpoint config.Endpoint) (Session, error) {
		if err := connectErr[role]; err != nil {
			return nil, errors.Wrap(moverrors.ErrConnection, err.Error())
		}
		return sessions[role], nil
	}
}

type memoryRecorder struct {
	mu       sync.Mutex
	started  int
	outcomes []Outcome
	finished []Result
}

func (r *memoryRecorder) Start(ctx context.Context, source, target config.Endpoint) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	return "run-1", nil
}

func (r *memoryRecorder) Record(ctx context.Context, runID string, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *memoryRecorder) Finish(ctx context.Context, runID string, res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, res)
	return nil
}

func (r *memoryRecorder) kinds() []OutcomeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutcomeKind, 0, len(r.outcomes))
	for _, o := range r.outcomes {
		out = append(out, o.Kind)
	}
	return out
}

type memoryArchiver struct {
	seqs []uint32
	err  error
}

func (a *memoryArchiver) Archive(ctx context.Context, folder string, rec *mailbox.Record) error {
	a.seqs = append(a.seqs, rec.Seq())
	return a.err
}
