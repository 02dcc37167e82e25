package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-maildir"
	"github.com/pkg/errors"

	"github.com/Warky-Devs/WkMailMove/internal/mailbox"
)

var maildirFlags = map[string]maildir.Flag{
	imap.SeenFlag:     maildir.FlagSeen,
	imap.AnsweredFlag: maildir.FlagReplied,
	imap.FlaggedFlag:  maildir.FlagFlagged,
	imap.DraftFlag:    maildir.FlagDraft,
	imap.DeletedFlag:  maildir.FlagTrashed,
}

// Maildir stores messages under root, one Maildir per source folder.
type Maildir struct {
	root string

	mu    sync.Mutex
	ready map[string]maildir.Dir
}

func NewMaildir(root string) *Maildir {
	return &Maildir{root: root, ready: map[string]maildir.Dir{}}
}

func (m *Maildir) dir(folder string) (maildir.Dir, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.ready[folder]; ok {
		return d, nil
	}
	if err := os.MkdirAll(m.root, 0o700); err != nil {
		return "", errors.Wrapf(err, "creating maildir root %s", m.root)
	}
	d := maildir.Dir(filepath.Join(m.root, SanitizeName(folder)))
	if err := d.Init(); err != nil {
		return "", errors.Wrapf(err, "initializing maildir %s", d)
	}
	m.ready[folder] = d
	return d, nil
}

func (m *Maildir) Archive(ctx context.Context, folder string, rec *mailbox.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := m.dir(folder)
	if err != nil {
		return err
	}

	var flags []maildir.Flag
	for _, f := range rec.Flags().Strings() {
		if flag, ok := maildirFlags[f]; ok {
			flags = append(flags, flag)
		}
	}

	msg, w, err := d.Create(flags)
	if err != nil {
		return errors.Wrapf(err, "creating message %d in %s", rec.Seq(), d)
	}
	if _, err := rec.Literal().WriteTo(w); err != nil {
		w.Close()
		return errors.Wrapf(err, "writing message %d", rec.Seq())
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "delivering message %d", rec.Seq())
	}

	if arrived := rec.Arrived(); !arrived.IsZero() {
		if err := os.Chtimes(msg.Filename(), arrived, arrived); err != nil {
			return errors.Wrapf(err, "dating message %d", rec.Seq())
		}
	}
	return nil
}
