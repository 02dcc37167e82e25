package mailbox

import (
	"bytes"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func init() {
	// Register additional charsets
	asciiEncoding := unicode.UTF8 // ASCII is compatible with UTF-8
	charset.RegisterEncoding("ascii", asciiEncoding)
	charset.RegisterEncoding("us-ascii", asciiEncoding)

	// Windows and Latin-1 charsets
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("cp1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("latin1", charmap.ISO8859_1)
}

// Summary holds the header fields used in log lines, the journal and archive
// file names. The raw message is never rewritten from it.
type Summary struct {
	MessageID string
	Subject   string
	From      string
}

func summarize(raw []byte) Summary {
	// An unknown charset still yields a usable entity.
	entity, _ := message.Read(bytes.NewReader(raw))
	if entity == nil {
		return Summary{}
	}
	h := mail.Header{Header: entity.Header}

	var (
		s   Summary
		err error
	)
	if s.Subject, err = h.Subject(); err != nil {
		s.Subject = h.Get("Subject")
	}
	if s.MessageID, err = h.MessageID(); err != nil || s.MessageID == "" {
		s.MessageID = h.Get("Message-Id")
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		if from[0].Name != "" {
			s.From = from[0].Name
		} else {
			s.From = from[0].Address
		}
	} else {
		s.From = h.Get("From")
	}
	return s
}
