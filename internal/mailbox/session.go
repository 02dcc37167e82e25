package mailbox

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Warky-Devs/WkMailMove/internal/config"
	moverrors "github.com/Warky-Devs/WkMailMove/internal/errors"
	"github.com/Warky-Devs/WkMailMove/internal/logger"
)

const (
	dialTimeout     = 30 * time.Second
	teardownTimeout = 10 * time.Second
)

type State int32

const (
	Disconnected State = iota
	Connected
	Authenticated
	FolderSelected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	case FolderSelected:
		return "folder-selected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type FolderState struct {
	Name     string
	Messages uint32
}

type FolderInfo struct {
	Name       string
	Attributes []string
}

// Session is one connection to a mail server. Commands are serialized, so a
// Teardown started from another goroutine waits for the command in flight.
type Session struct {
	role     string
	endpoint config.Endpoint
	log      logger.Logger

	mu     sync.Mutex
	client *client.Client
	folder string
	state  atomic.Int32
}

// Connect opens the transport to the endpoint without authenticating.
func Connect(ctx context.Context, role string, endpoint config.Endpoint, log logger.Logger) (*Session, error) {
	s := &Session{
		role:     role,
		endpoint: endpoint,
		log:      log.With(zap.String("role", role)),
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := endpoint.Address()
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	var (
		c   *client.Client
		err error
	)
	if endpoint.TLS {
		tlsConfig := &tls.Config{ServerName: endpoint.Host}
		if endpoint.InsecureTLS {
			tlsConfig.InsecureSkipVerify = true
		}
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, errors.Wrapf(moverrors.ErrConnection, "%s %s: %v", role, addr, err)
	}
	c.Timeout = endpoint.Timeout

	s.client = c
	s.state.Store(int32(Connected))
	s.log.Debugf("Connected to %s", addr)
	return s, nil
}

func (s *Session) Role() string { return s.role }

func (s *Session) State() State { return State(s.state.Load()) }

// Folder returns the currently selected folder, if any.
func (s *Session) Folder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.folder
}

// use must be called with s.mu held.
func (s *Session) use(ctx context.Context, min State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state := s.State()
	if state == Closed || state == Disconnected {
		return errors.Wrap(moverrors.ErrSessionClosed, s.role)
	}
	if state < min {
		if min == FolderSelected {
			return errors.Wrap(moverrors.ErrNotSelected, s.role)
		}
		return errors.Errorf("%s: session is %s, needs %s", s.role, state, min)
	}
	return nil
}

func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.use(ctx, Connected); err != nil {
		return err
	}
	if s.State() >= Authenticated {
		return nil
	}

	if err := s.client.Login(s.endpoint.Username, s.endpoint.Password); err != nil {
		return errors.Wrapf(moverrors.ErrAuth, "%s as %s: %v", s.role, s.endpoint.Username, err)
	}
	s.state.Store(int32(Authenticated))
	return nil
}

func (s *Session) ListFolders(ctx context.Context) ([]FolderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.use(ctx, Authenticated); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var folders []FolderInfo
	for m := range mailboxes {
		folders = append(folders, FolderInfo{Name: m.Name, Attributes: m.Attributes})
	}
	if err := <-done; err != nil {
		return nil, errors.Wrapf(err, "%s: list folders", s.role)
	}
	return folders, nil
}

// SelectFolder selects name read-write. Selecting another folder leaves the
// delete-marks of the previous one in place.
func (s *Session) SelectFolder(ctx context.Context, name string) (*FolderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.use(ctx, Authenticated); err != nil {
		return nil, err
	}

	status, err := s.client.Select(name, false)
	if err != nil {
		if s.State() == FolderSelected {
			// a failed SELECT deselects the previous folder
			s.folder = ""
			s.state.Store(int32(Authenticated))
		}
		return nil, errors.Wrapf(moverrors.ErrFolder, "%s %q: %v", s.role, name, err)
	}
	s.folder = name
	s.state.Store(int32(FolderSelected))
	return &FolderState{Name: name, Messages: status.Messages}, nil
}

// Search returns the sequence numbers of every message in the selected
// folder, in server order.
func (s *Session) Search(ctx context.Context) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.use(ctx, FolderSelected); err != nil {
		return nil, err
	}

	seqs, err := s.client.Search(imap.NewSearchCriteria())
	if err != nil {
		return nil, errors.Wrapf(err, "%s: search %q", s.role, s.folder)
	}
	return seqs, nil
}

// Fetch reads the full message, its flags and its internal date without
// setting \Seen.
func (s *Session) Fetch(ctx context.Context, seq uint32) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.use(ctx, FolderSelected); err != nil {
		return nil, err
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seq)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.Fetch(seqset, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		if m.SeqNum == seq && m.GetBody(section) != nil {
			msg = m
		}
	}
	if err := <-done; err != nil {
		return nil, errors.Wrapf(moverrors.ErrFetch, "%s message %d: %v", s.role, seq, err)
	}
	if msg == nil {
		return nil, errors.Wrapf(moverrors.ErrFetch, "%s message %d: no body returned", s.role, seq)
	}

	raw, err := io.ReadAll(msg.GetBody(section))
	if err != nil {
		return nil, errors.Wrapf(moverrors.ErrFetch, "%s message %d: read body: %v", s.role, seq, err)
	}
	return NewRecord(seq, raw, msg.Flags, msg.InternalDate), nil
}

// Append stores rec in folder with its original flags and arrival date. A
// NO or BAD answer is a Rejected result, not an error.
func (s *Session) Append(ctx context.Context, folder string, rec *Record) AppendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.use(ctx, Authenticated); err != nil {
		return AppendResult{Status: AppendFailed, Reason: err.Error()}
	}

	cmd := &commands.Append{
		Mailbox: folder,
		Flags:   rec.Flags().Transferable(),
		Date:    rec.Arrived(),
		Message: rec.Literal(),
	}
	status, err := s.client.Execute(cmd, nil)
	switch {
	case err != nil:
		return AppendResult{Status: AppendFailed, Reason: err.Error()}
	case status == nil:
		return AppendResult{Status: AppendFailed, Reason: "connection closed during append"}
	case status.Type == imap.StatusRespNo || status.Type == imap.StatusRespBad:
		reason := status.Info
		if reason == "" {
			reason = string(status.Type)
		}
		return AppendResult{Status: AppendRejected, Reason: reason}
	}
	return AppendResult{Status: AppendOK}
}

// MarkDeleted sets \Deleted on the given messages of the selected folder.
func (s *Session) MarkDeleted(ctx context.Context, seqs ...uint32) error {
	if len(seqs) == 0 {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(seqs...)
	return s.markDeleted(ctx, seqset)
}

// MarkAllDeleted sets \Deleted on every message of the selected folder.
func (s *Session) MarkAllDeleted(ctx context.Context) error {
	seqset := new(imap.SeqSet)
	seqset.AddRange(1, 0)
	return s.markDeleted(ctx, seqset)
}

func (s *Session) markDeleted(ctx context.Context, seqset *imap.SeqSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.use(ctx, FolderSelected); err != nil {
		return err
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := s.client.Store(seqset, item, flags, nil); err != nil {
		return errors.Wrapf(moverrors.ErrStore, "%s %s in %q: %v", s.role, seqset, s.folder, err)
	}
	return nil
}

// Expunge removes the delete-marked messages of the selected folder.
func (s *Session) Expunge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.use(ctx, FolderSelected); err != nil {
		return err
	}
	if err := s.client.Expunge(nil); err != nil {
		return errors.Wrapf(err, "%s: expunge %q", s.role, s.folder)
	}
	return nil
}

// Teardown expunges and closes the selected folder and logs out. Sessions
// that never selected a folder are only logged out. It is safe to call any
// number of times; failures are logged and the session ends up Closed.
func (s *Session) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.State()
	s.log.Infof("%s IMAP session state: %s", s.role, state)
	if state == Disconnected || state == Closed {
		return nil
	}

	c := s.client
	if c.Timeout == 0 || c.Timeout > teardownTimeout {
		c.Timeout = teardownTimeout
	}

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if state == FolderSelected {
		s.log.Debugf("Closing %q...", s.folder)
		if err := c.Expunge(nil); err != nil {
			s.log.Warnf("Expunge of %q failed: %v", s.folder, err)
			keep(errors.Wrap(err, "expunge"))
		}
		if err := c.Close(); err != nil {
			s.log.Warnf("Close of %q failed: %v", s.folder, err)
			keep(errors.Wrap(err, "close"))
		}
	}
	if err := c.Logout(); err != nil {
		s.log.Warnf("Logout failed: %v", err)
		keep(errors.Wrap(err, "logout"))
		_ = c.Terminate()
	}

	s.folder = ""
	s.state.Store(int32(Closed))
	if first != nil {
		return moverrors.Cleanup(s.role+" teardown", first)
	}
	return nil
}
