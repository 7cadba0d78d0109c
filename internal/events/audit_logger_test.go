package events

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_Record(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	l, err := NewAuditLogger(logPath, 0)
	require.NoError(t, err)

	require.NoError(t, l.Record(Event{
		Type: EventAlarmTransition,
		Data: map[string]any{"from": "pending", "to": "sounding"},
	}))
	require.NoError(t, l.Record(Event{
		Type: EventCommand,
		Data: map[string]any{"action": "start_alarm", "code": 100},
	}))
	require.NoError(t, l.Close())

	entries, err := ReadEntries(logPath)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "alarm_transition", entries[0].EventType)
	assert.Equal(t, "sounding", entries[0].State)
	assert.NotEmpty(t, entries[0].EventID)
	assert.Equal(t, "start_alarm", entries[1].Action)
	assert.NotEqual(t, entries[0].EventID, entries[1].EventID)
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewAuditLogger(logPath, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Record(Event{Type: EventCommand, Data: map[string]any{"n": i}}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	entries, err := ReadEntries(logPath)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestAuditLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")

	l, err := NewAuditLogger(logPath, 512)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Record(Event{
			Type: EventStatusChanged,
			Data: map[string]any{"text": strings.Repeat("x", 40)},
		}))
	}
	require.NoError(t, l.Close())

	archived, err := os.ReadDir(filepath.Join(dir, ArchiveDir))
	require.NoError(t, err)
	assert.NotEmpty(t, archived)

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(512))
}

func TestAuditLogger_AppendsToExisting(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	l, err := NewAuditLogger(logPath, 0)
	require.NoError(t, err)
	require.NoError(t, l.Record(Event{Type: EventCommand}))
	require.NoError(t, l.Close())

	l, err = NewAuditLogger(logPath, 0)
	require.NoError(t, err)
	assert.Greater(t, l.CurrentSize(), int64(0))
	require.NoError(t, l.Record(Event{Type: EventCommand}))
	require.NoError(t, l.Close())

	entries, err := ReadEntries(logPath)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAuditLogger_WriteAfterClose(t *testing.T) {
	l, err := NewAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"), 0)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.Error(t, l.Record(Event{Type: EventCommand}))
	assert.NoError(t, l.Close())
}

func TestAuditLogger_Attach(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewAuditLogger(logPath, 0)
	require.NoError(t, err)

	bus := NewBus(10, nil)
	detach := l.Attach(bus)
	bus.Publish(EventMessageMatched, map[string]any{"path": "observer", "from": "10086"})

	require.Eventually(t, func() bool { return l.CurrentSize() > 0 }, time.Second, 5*time.Millisecond)
	detach()
	bus.Close()
	require.NoError(t, l.Close())

	entries, err := ReadEntries(logPath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "message_matched", entries[0].EventType)
	assert.Equal(t, "10086", entries[0].Details["from"])
}
