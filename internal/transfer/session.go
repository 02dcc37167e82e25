package transfer

import (
	"context"
	"sync"

	"github.com/Warky-Devs/WkMailMove/internal/config"
	"github.com/Warky-Devs/WkMailMove/internal/logger"
	"github.com/Warky-Devs/WkMailMove/internal/mailbox"
)

const (
	RoleSource = "source"
	RoleTarget = "target"
)

// Session is the protocol surface the engine drives; *mailbox.Session
// implements it.
type Session interface {
	Role() string
	State() mailbox.State
	Authenticate(ctx context.Context) error
	ListFolders(ctx context.Context) ([]mailbox.FolderInfo, error)
	SelectFolder(ctx context.Context, name string) (*mailbox.FolderState, error)
	Search(ctx context.Context) ([]uint32, error)
	Fetch(ctx context.Context, seq uint32) (*mailbox.Record, error)
	Append(ctx context.Context, folder string, rec *mailbox.Record) mailbox.AppendResult
	MarkDeleted(ctx context.Context, seqs ...uint32) error
	MarkAllDeleted(ctx context.Context) error
	Expunge(ctx context.Context) error
	Teardown() error
}

// Connector opens the transport of a session without authenticating it.
type Connector func(ctx context.Context, role string, endpoint config.Endpoint) (Session, error)

// IMAPConnector connects real IMAP sessions.
func IMAPConnector(log logger.Logger) Connector {
	return func(ctx context.Context, role string, endpoint config.Endpoint) (Session, error) {
		s, err := mailbox.Connect(ctx, role, endpoint, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Sessions holds the open sessions of one run. The engine fills it as soon
// as each connection exists; the guard reads it at teardown.
type Sessions struct {
	mu     sync.Mutex
	source Session
	target Session
}

func (s *Sessions) set(role string, session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == RoleSource {
		s.source = session
	} else {
		s.target = session
	}
}

func (s *Sessions) Source() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

func (s *Sessions) Target() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}
