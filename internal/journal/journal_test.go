package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Warky-Devs/WkMailMove/internal/config"
	"github.com/Warky-Devs/WkMailMove/internal/mailbox"
	"github.com/Warky-Devs/WkMailMove/internal/transfer"
)

func openJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func endpoints() (config.Endpoint, config.Endpoint) {
	source := config.Endpoint{Host: "imap.gmail.com", Port: 993, Username: "alice", Folder: "[Gmail]/Sent Mail"}
	target := config.Endpoint{Host: "mail.example.org", Port: 143, Username: "archive", Folder: "Sent"}
	return source, target
}

func TestJournal_RunLifecycle(t *testing.T) {
	j, _ := openJournal(t)
	ctx := context.Background()
	source, target := endpoints()

	id, err := j.Start(ctx, source, target)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(ctx, id, transfer.Outcome{
		Seq:     1,
		Summary: mailbox.Summary{MessageID: "1@example.org", Subject: "Café"},
		Kind:    transfer.OutcomeMoved,
		At:      at,
	}))
	require.NoError(t, j.Record(ctx, id, transfer.Outcome{
		Seq:    2,
		Kind:   transfer.OutcomeAppendRejected,
		Detail: "over quota",
	}))

	runs, err := j.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StateRunning, runs[0].State)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Equal(t, "alice@imap.gmail.com:993/[Gmail]/Sent Mail", runs[0].Source)

	require.NoError(t, j.Finish(ctx, id, transfer.Result{Found: 2, Moved: 1, Failed: 1, Purged: 3}))

	runs, err = j.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, StateDone, run.State)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 2, run.Found)
	assert.Equal(t, 1, run.Moved)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 3, run.Purged)

	transfers, err := j.Transfers(ctx, id)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, int64(1), transfers[0].Seq)
	assert.Equal(t, "Café", transfers[0].Subject)
	assert.Equal(t, "moved", transfers[0].Outcome)
	assert.True(t, transfers[0].At.Equal(at))
	assert.Equal(t, "append_rejected", transfers[1].Outcome)
	assert.Equal(t, "over quota", transfers[1].Detail)
}

func TestJournal_FinishStates(t *testing.T) {
	j, _ := openJournal(t)
	ctx := context.Background()
	source, target := endpoints()

	for _, tc := range []struct {
		res  transfer.Result
		want string
	}{
		{transfer.Result{Interrupted: true}, StateInterrupted},
		{transfer.Result{Aborted: true}, StateAborted},
		{transfer.Result{}, StateDone},
	} {
		id, err := j.Start(ctx, source, target)
		require.NoError(t, err)
		require.NoError(t, j.Finish(ctx, id, tc.res))

		var state string
		require.NoError(t, j.db.Get(&state, "SELECT state FROM runs WHERE id = ?", id))
		assert.Equal(t, tc.want, state)
	}

	assert.Error(t, j.Finish(ctx, "no-such-run", transfer.Result{}))
}

func TestJournal_ReopenKeepsHistory(t *testing.T) {
	j, path := openJournal(t)
	ctx := context.Background()
	source, target := endpoints()

	id, err := j.Start(ctx, source, target)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	var version int
	require.NoError(t, reopened.db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, len(migrations), version)

	runs, err := reopened.Runs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
}

func TestJournal_RecordsEngineRun(t *testing.T) {
	j, _ := openJournal(t)
	var rec transfer.Recorder = j
	ctx := context.Background()
	source, target := endpoints()

	id, err := rec.Start(ctx, source, target)
	require.NoError(t, err)
	require.NoError(t, rec.Record(ctx, id, transfer.Outcome{Seq: 4, Kind: transfer.OutcomeFetchFailed}))

	transfers, err := j.Transfers(ctx, id)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, id, transfers[0].RunID)
}
