// Package archive keeps a copy of every moved message outside the mail
// servers, in a local Maildir or on an SFTP host.
package archive

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/multierr"

	"github.com/Warky-Devs/WkMailMove/internal/mailbox"
)

type Archiver interface {
	Archive(ctx context.Context, folder string, rec *mailbox.Record) error
}

// Chain writes to every archiver and reports all failures.
type Chain []Archiver

func (c Chain) Archive(ctx context.Context, folder string, rec *mailbox.Record) error {
	var err error
	for _, a := range c {
		err = multierr.Append(err, a.Archive(ctx, folder, rec))
	}
	return err
}

var invalidChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

const maxNameLen = 100

// SanitizeName turns a folder name or subject into a safe file name.
func SanitizeName(input string) string {
	sanitized := invalidChars.ReplaceAllString(input, "_")
	sanitized = strings.ReplaceAll(sanitized, " ", "_")
	if len(sanitized) > maxNameLen {
		sanitized = truncate(sanitized, maxNameLen)
	}
	if sanitized == "" || strings.Trim(sanitized, ".") == "" {
		return "_"
	}
	return sanitized
}

// truncate cuts s to at most n bytes without splitting a rune; len(s) > n.
func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// FileName is the name an archived message gets:
// <YYYYMMDD_HHMMSS>_<seq>_<subject>.eml
func FileName(rec *mailbox.Record) string {
	subject := rec.Summary().Subject
	if subject == "" {
		subject = "no_subject"
	}
	return fmt.Sprintf("%s_%d_%s.eml",
		rec.Arrived().UTC().Format("20060102_150405"),
		rec.Seq(),
		SanitizeName(subject))
}
