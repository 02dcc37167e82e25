package mailbox

import (
	"bytes"
	"strings"
	"time"

	"github.com/emersion/go-imap"
)

// FlagSet is an ordered set of IMAP flags.
type FlagSet struct {
	flags []string
}

func NewFlagSet(flags ...string) FlagSet {
	seen := make(map[string]bool, len(flags))
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		key := imap.CanonicalFlag(f)
		if f == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return FlagSet{flags: out}
}

func (s FlagSet) Has(flag string) bool {
	want := imap.CanonicalFlag(flag)
	for _, f := range s.flags {
		if imap.CanonicalFlag(f) == want {
			return true
		}
	}
	return false
}

func (s FlagSet) Len() int { return len(s.flags) }

func (s FlagSet) Strings() []string {
	return append([]string(nil), s.flags...)
}

// Transferable returns the flags a client may set with APPEND; \Recent is
// owned by the server.
func (s FlagSet) Transferable() []string {
	out := make([]string, 0, len(s.flags))
	for _, f := range s.flags {
		if imap.CanonicalFlag(f) == imap.CanonicalFlag(imap.RecentFlag) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (s FlagSet) String() string {
	return strings.Join(s.flags, " ")
}

// Record is one fetched message in flight between the two sessions. It is
// never modified after construction.
type Record struct {
	seq     uint32
	raw     []byte
	flags   FlagSet
	arrived time.Time
	summary Summary
}

func NewRecord(seq uint32, raw []byte, flags []string, arrived time.Time) *Record {
	body := append([]byte(nil), raw...)
	return &Record{
		seq:     seq,
		raw:     body,
		flags:   NewFlagSet(flags...),
		arrived: arrived,
		summary: summarize(body),
	}
}

func (r *Record) Seq() uint32        { return r.seq }
func (r *Record) Flags() FlagSet     { return r.flags }
func (r *Record) Arrived() time.Time { return r.arrived }
func (r *Record) Size() int          { return len(r.raw) }
func (r *Record) Summary() Summary   { return r.summary }

// Literal returns a fresh reader over the raw message, usable as an
// APPEND literal.
func (r *Record) Literal() *bytes.Reader {
	return bytes.NewReader(r.raw)
}

// Bytes returns a copy of the raw message.
func (r *Record) Bytes() []byte {
	return append([]byte(nil), r.raw...)
}

type AppendStatus int

const (
	AppendOK AppendStatus = iota
	// AppendRejected means the server answered NO or BAD.
	AppendRejected
	// AppendFailed means no answer was obtained (transport, closed session).
	AppendFailed
)

func (s AppendStatus) String() string {
	switch s {
	case AppendOK:
		return "ok"
	case AppendRejected:
		return "rejected"
	default:
		return "failed"
	}
}

type AppendResult struct {
	Status AppendStatus
	Reason string
}

func (r AppendResult) OK() bool { return r.Status == AppendOK }
