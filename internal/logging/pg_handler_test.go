package logging

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medilens/backend/internal/models"
)

var timeZero time.Time

type captureWriter struct {
	mu   sync.Mutex
	rows []models.SystemLog
}

func (w *captureWriter) write(batch []models.SystemLog) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = append(w.rows, batch...)
	return nil
}

func (w *captureWriter) snapshot() []models.SystemLog {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.SystemLog{}, w.rows...)
}

func TestPGHandlerPromotesColumns(t *testing.T) {
	w := &captureWriter{}
	h := newPGHandler(w.write, time.Hour)

	logger := slog.New(h).With("trace_id", "req-1")
	logger.Info("not persisted")
	logger.Error("scan record not persisted after image upload",
		"action", "orphan_object",
		"user_id", "3f1c",
		"object_key", "scans/1700000000000-abc.png",
		"error", errors.New("connection refused"),
		"latency_ms", 12.6,
		"scan_id", "s-1",
	)
	h.Stop()

	rows := w.snapshot()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "ERROR", row.Level)
	assert.Equal(t, "req-1", row.TraceID)
	assert.Equal(t, "orphan_object", row.Action)
	require.NotNil(t, row.UserID)
	assert.Equal(t, "3f1c", *row.UserID)
	assert.Equal(t, "scans/1700000000000-abc.png", row.ObjectKey)
	assert.Equal(t, "connection refused", row.Error)
	assert.Equal(t, 13, row.LatencyMs)

	var extra map[string]interface{}
	require.NoError(t, json.Unmarshal(row.Extra, &extra))
	assert.Equal(t, "s-1", extra["scan_id"])
}

func TestPGHandlerGroupsGoToExtra(t *testing.T) {
	w := &captureWriter{}
	h := newPGHandler(w.write, time.Hour)

	slog.New(h).WithGroup("req").With("path", "/api/history").Error("failed", "user_id", "u-1")
	h.Stop()

	rows := w.snapshot()
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].UserID)

	var extra map[string]interface{}
	require.NoError(t, json.Unmarshal(rows[0].Extra, &extra))
	assert.Equal(t, "/api/history", extra["req.path"])
	assert.Equal(t, "u-1", extra["req.user_id"])
}

func TestPGHandlerFlushesOnBatchSize(t *testing.T) {
	w := &captureWriter{}
	h := newPGHandler(w.write, time.Hour)
	defer h.Stop()

	logger := slog.New(h)
	for i := 0; i < pgBatchSize; i++ {
		logger.Error("burst", "i", i)
	}

	require.Eventually(t, func() bool {
		return len(w.snapshot()) == pgBatchSize
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPGHandlerStopIsIdempotent(t *testing.T) {
	h := newPGHandler((&captureWriter{}).write, time.Hour)
	h.Stop()
	h.Stop()
}
