// Package imaptest runs an in-process IMAP server backed by memory, for
// exercising sessions and transfers against a real protocol peer.
package imaptest

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/require"

	"github.com/Warky-Devs/WkMailMove/internal/config"
)

// Credentials accepted by the memory backend.
const (
	Username = "username"
	Password = "password"
)

// Message is a stored message as seen by the server.
type Message struct {
	Flags []string
	Date  time.Time
	Body  []byte
}

type Server struct {
	t       testing.TB
	backend *memory.Backend
	srv     *server.Server
	addr    *net.TCPAddr
}

// NewServer starts a server on a random loopback port; it is stopped when
// the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	be := memory.New()
	srv := server.New(be)
	srv.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = srv.Serve(l)
	}()
	t.Cleanup(func() { _ = srv.Close() })

	return &Server{t: t, backend: be, srv: srv, addr: l.Addr().(*net.TCPAddr)}
}

// Endpoint returns a plain-text endpoint pointing at the server.
func (s *Server) Endpoint(folder, trash string) config.Endpoint {
	return config.Endpoint{
		Host:     s.addr.IP.String(),
		Port:     s.addr.Port,
		Username: Username,
		Password: Password,
		Folder:   folder,
		Trash:    trash,
		Timeout:  10 * time.Second,
	}
}

// Shutdown drops the listener and every open connection.
func (s *Server) Shutdown() {
	_ = s.srv.Close()
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.addr.IP.String(), strconv.Itoa(s.addr.Port))
}

func (s *Server) user() backend.User {
	s.t.Helper()
	u, err := s.backend.Login(nil, Username, Password)
	require.NoError(s.t, err)
	return u
}

// CreateFolder creates name unless it already exists.
func (s *Server) CreateFolder(name string) {
	s.t.Helper()
	u := s.user()
	if _, err := u.GetMailbox(name); err == nil {
		return
	}
	require.NoError(s.t, u.CreateMailbox(name))
}

// Deliver stores a message in folder, creating the folder when needed.
func (s *Server) Deliver(folder string, flags []string, date time.Time, body string) {
	s.t.Helper()
	s.CreateFolder(folder)
	mbox, err := s.user().GetMailbox(folder)
	require.NoError(s.t, err)
	require.NoError(s.t, mbox.CreateMessage(flags, date, bytes.NewBufferString(body)))
}

// Messages returns a snapshot of the messages in folder.
func (s *Server) Messages(folder string) []Message {
	s.t.Helper()
	mbox, err := s.user().GetMailbox(folder)
	require.NoError(s.t, err)

	seqset := new(imap.SeqSet)
	seqset.AddRange(1, 0)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- mbox.ListMessages(false, seqset, items, ch)
	}()

	var out []Message
	for m := range ch {
		var body []byte
		for _, literal := range m.Body {
			if literal == nil {
				continue
			}
			buf := new(bytes.Buffer)
			_, _ = buf.ReadFrom(literal)
			body = buf.Bytes()
		}
		out = append(out, Message{Flags: m.Flags, Date: m.InternalDate, Body: body})
	}
	require.NoError(s.t, <-done)
	return out
}

// HasFlag reports whether msg carries flag.
func (m Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// DeleteFolder removes name; sessions that selected it keep their view.
func (s *Server) DeleteFolder(name string) {
	s.t.Helper()
	u := s.user()
	if _, err := u.GetMailbox(name); err != nil {
		return
	}
	require.NoError(s.t, u.DeleteMailbox(name))
}
