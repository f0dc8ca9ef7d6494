package dispatch_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/command"
	"github.com/wardenhq/warden/internal/dispatch"
	"github.com/wardenhq/warden/internal/dispatch/mocks"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/killswitch"
	"github.com/wardenhq/warden/internal/ledger"
	"github.com/wardenhq/warden/internal/storage"
)

type harness struct {
	queue    *dispatch.Queue
	ks       *killswitch.Switch
	writer   *ledger.Writer
	executor *mocks.MockExecutor
	disp     *dispatch.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "warden.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ks, err := killswitch.New(context.Background(), db)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	executor := mocks.NewMockExecutor(ctrl)

	queue := dispatch.NewQueue(db)
	writer := ledger.NewWriter(db, ledger.NewSigner("test"), "warden-test")

	disp := dispatch.New(queue, map[string]dispatch.Executor{
		"SCAN_SITE":     executor,
		"REVERT_ACTION": executor,
	}, ks, writer, events.NewHub(16), dispatch.Options{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	})

	return &harness{queue: queue, ks: ks, writer: writer, executor: executor, disp: disp}
}

func scanCmd(id string) command.Command {
	return command.Command{
		ID:          id,
		Type:        "SCAN_SITE",
		Params:      map[string]string{"domain": "example.com"},
		SubmittedBy: "operator",
		SubmittedAt: time.Now().UTC(),
	}
}

func (h *harness) terminalEntry(t *testing.T, commandID string) ledger.Entry {
	t.Helper()
	entries, err := h.writer.Query(context.Background(), ledger.Filter{CommandID: commandID})
	require.NoError(t, err)
	require.NotEmpty(t, entries, "no ledger entries for %s", commandID)
	return entries[len(entries)-1]
}

func TestDeliverSuccessWritesSuccessEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(dispatch.Verdict{OK: true, Detail: "scan finished: 3 findings"}, nil)

	_, err := h.disp.Enqueue(context.Background(), scanCmd("cmd-1"))
	require.NoError(t, err)

	processed, err := h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
	require.NoError(t, err)
	require.True(t, processed)

	entry := h.terminalEntry(t, "cmd-1")
	assert.Equal(t, ledger.StatusSuccess, entry.Status)
	assert.Equal(t, "scan finished: 3 findings", entry.Rationale)
	assert.GreaterOrEqual(t, entry.LatencyMs, int64(0))
}

func TestDeliverRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	gomock.InOrder(
		h.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(dispatch.Verdict{}, errors.New("connection refused")),
		h.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(dispatch.Verdict{OK: true}, nil),
	)

	_, err := h.disp.Enqueue(context.Background(), scanCmd("cmd-1"))
	require.NoError(t, err)

	processed, err := h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
	require.NoError(t, err)
	require.True(t, processed)

	// Wait past the backoff deadline, then the retry attempt delivers.
	time.Sleep(10 * time.Millisecond)
	processed, err = h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
	require.NoError(t, err)
	require.True(t, processed)

	entry := h.terminalEntry(t, "cmd-1")
	assert.Equal(t, ledger.StatusSuccess, entry.Status)
}

func TestDeliverExhaustsRetries(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(dispatch.Verdict{}, errors.New("executor unavailable")).Times(3)

	_, err := h.disp.Enqueue(context.Background(), scanCmd("cmd-1"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		processed, perr := h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
		require.NoError(t, perr)
		require.True(t, processed, "attempt %d should have been due", i+1)
	}

	entry := h.terminalEntry(t, "cmd-1")
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.Contains(t, entry.Rationale, "dispatch exhausted retries")

	// Nothing left in the lane.
	processed, err := h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestDeliverExecutorVerdictFailureIsTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(dispatch.Verdict{OK: false, Detail: "site unreachable"}, nil)

	_, err := h.disp.Enqueue(context.Background(), scanCmd("cmd-1"))
	require.NoError(t, err)

	processed, err := h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
	require.NoError(t, err)
	require.True(t, processed)

	entry := h.terminalEntry(t, "cmd-1")
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.Contains(t, entry.Rationale, "site unreachable")

	// Terminal: no retry even though attempts remain.
	processed, err = h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestDeliverBlockedByKillSwitch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	// Executor must never be called while the switch is on.

	_, err := h.disp.Enqueue(context.Background(), scanCmd("cmd-1"))
	require.NoError(t, err)

	_, err = h.ks.Set(context.Background(), true, "admin")
	require.NoError(t, err)

	processed, err := h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
	require.NoError(t, err)
	require.True(t, processed)

	entry := h.terminalEntry(t, "cmd-1")
	assert.Equal(t, ledger.StatusBlocked, entry.Status)
	assert.Equal(t, "kill switch active", entry.Rationale)
}

func TestDeliverNoExecutorRegistered(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	cmd := scanCmd("cmd-1")
	cmd.Type = "START_CAMPAIGN"
	_, err := h.disp.Enqueue(context.Background(), cmd)
	require.NoError(t, err)

	processed, err := h.disp.ProcessOnce(context.Background(), "START_CAMPAIGN")
	require.NoError(t, err)
	require.True(t, processed)

	entry := h.terminalEntry(t, "cmd-1")
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.Contains(t, entry.Rationale, "no executor registered")
}

func TestDeliverRevertWritesRevertedAgainstOriginal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(dispatch.Verdict{OK: true}, nil)

	revert := command.Command{
		ID:          "revert-1",
		Type:        "REVERT_ACTION",
		Params:      map[string]string{"action_id": "cmd-original", "reason": "bad data"},
		SubmittedBy: "operator",
		SubmittedAt: time.Now().UTC(),
	}
	_, err := h.disp.Enqueue(context.Background(), revert)
	require.NoError(t, err)

	processed, err := h.disp.ProcessOnce(context.Background(), "REVERT_ACTION")
	require.NoError(t, err)
	require.True(t, processed)

	entry := h.terminalEntry(t, "cmd-original")
	assert.Equal(t, ledger.StatusReverted, entry.Status)
	assert.Contains(t, entry.Rationale, "revert-1")
	assert.Contains(t, entry.Rationale, "bad data")
}

func TestSameTypeOrderPreservedUnderRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	var delivered []string
	record := func(_ context.Context, cmd command.Command) {
		delivered = append(delivered, cmd.ID)
	}
	gomock.InOrder(
		h.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Do(record).Return(dispatch.Verdict{}, errors.New("connection refused")),
		h.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Do(record).Return(dispatch.Verdict{OK: true}, nil),
		h.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Do(record).Return(dispatch.Verdict{OK: true}, nil),
	)

	_, err := h.disp.Enqueue(context.Background(), scanCmd("cmd-a"))
	require.NoError(t, err)
	_, err = h.disp.Enqueue(context.Background(), scanCmd("cmd-b"))
	require.NoError(t, err)

	// A fails transiently; B must wait behind it, not jump the lane.
	processed, err := h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
	require.NoError(t, err)
	require.True(t, processed)

	for i := 0; i < 2; i++ {
		time.Sleep(10 * time.Millisecond)
		processed, err = h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
		require.NoError(t, err)
		require.True(t, processed)
	}

	assert.Equal(t, []string{"cmd-a", "cmd-a", "cmd-b"}, delivered)

	a := h.terminalEntry(t, "cmd-a")
	b := h.terminalEntry(t, "cmd-b")
	assert.Equal(t, ledger.StatusSuccess, a.Status)
	assert.True(t, a.Seq < b.Seq, "terminal entry of A must precede B, got %d vs %d", a.Seq, b.Seq)
}

func TestSameTypeOrderPreserved(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(dispatch.Verdict{OK: true}, nil).Times(2)

	_, err := h.disp.Enqueue(context.Background(), scanCmd("cmd-a"))
	require.NoError(t, err)
	_, err = h.disp.Enqueue(context.Background(), scanCmd("cmd-b"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		processed, perr := h.disp.ProcessOnce(context.Background(), "SCAN_SITE")
		require.NoError(t, perr)
		require.True(t, processed)
	}

	a := h.terminalEntry(t, "cmd-a")
	b := h.terminalEntry(t, "cmd-b")
	assert.True(t, a.Seq < b.Seq, "terminal entry of A must precede B, got %d vs %d", a.Seq, b.Seq)
	assert.False(t, a.Timestamp.After(b.Timestamp), "A's terminal timestamp must not follow B's")
}
