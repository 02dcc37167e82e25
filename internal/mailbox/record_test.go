package mailbox

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
)

func TestFlagSet(t *testing.T) {
	set := NewFlagSet(imap.SeenFlag, `\seen`, imap.RecentFlag, "", "$Label1", imap.FlaggedFlag)

	assert.Equal(t, []string{imap.SeenFlag, imap.RecentFlag, "$Label1", imap.FlaggedFlag}, set.Strings())
	assert.Equal(t, `\Seen \Recent $Label1 \Flagged`, set.String())
	assert.Equal(t, []string{imap.SeenFlag, "$Label1", imap.FlaggedFlag}, set.Transferable())
	assert.True(t, set.Has(`\SEEN`))
	assert.False(t, set.Has(imap.DraftFlag))
	assert.Equal(t, 4, set.Len())

	flags := set.Strings()
	flags[0] = "mutated"
	assert.True(t, set.Has(imap.SeenFlag), "Strings returns a copy")
}

func TestRecord_Immutable(t *testing.T) {
	raw := []byte(sampleMessage)
	arrived := time.Date(2023, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := NewRecord(7, raw, []string{imap.AnsweredFlag}, arrived)

	raw[0] = 'X'
	out := rec.Bytes()
	out[1] = 'X'
	assert.Equal(t, sampleMessage, string(rec.Bytes()))
	assert.Equal(t, len(sampleMessage), rec.Size())
	assert.Equal(t, len(sampleMessage), rec.Literal().Len())
	assert.Equal(t, uint32(7), rec.Seq())
	assert.Equal(t, arrived, rec.Arrived())
}

func TestRecord_Summary(t *testing.T) {
	rec := NewRecord(1, []byte(sampleMessage), nil, time.Time{})
	assert.Equal(t, Summary{MessageID: "42@example.org", Subject: "Café", From: "Alice"}, rec.Summary())

	unknownCharset := "From: bob@example.org\r\n" +
		"Subject: =?x-unknown?q?abc?=\r\n" +
		"\r\nbody\r\n"
	rec = NewRecord(2, []byte(unknownCharset), nil, time.Time{})
	assert.Equal(t, "=?x-unknown?q?abc?=", rec.Summary().Subject)
	assert.Equal(t, "bob@example.org", rec.Summary().From)
	assert.Empty(t, rec.Summary().MessageID)

	assert.Equal(t, Summary{}, NewRecord(3, nil, nil, time.Time{}).Summary())
}

func TestAppendResult(t *testing.T) {
	assert.True(t, AppendResult{Status: AppendOK}.OK())
	assert.False(t, AppendResult{Status: AppendRejected}.OK())
	assert.Equal(t, "rejected", AppendRejected.String())
	assert.Equal(t, "failed", AppendFailed.String())
}
