package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAppendsOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit_logs.jsonl")
	logger, err := NewLogger(path, nil)
	require.NoError(t, err)

	logger.Write(Record{
		Question:        "一月线损率趋势",
		UserContext:     map[string]any{"user_id": "u1"},
		EvidenceSummary: "metrics=[line_loss_rate]",
		SQL:             "SELECT ...",
		ElapsedMS:       12,
	})
	logger.Write(Record{
		Question: "q2",
		Error:    "[plan] plan_validation_failed",
	})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, records, 2)

	assert.NotEmpty(t, records[0].AuditLogID)
	assert.NotEmpty(t, records[0].Timestamp)
	assert.Equal(t, "一月线损率趋势", records[0].Question)
	assert.Equal(t, "u1", records[0].UserContext["user_id"])
	assert.NotNil(t, records[0].ValidationErrors)
	assert.Equal(t, "[plan] plan_validation_failed", records[1].Error)
	assert.NotEqual(t, records[0].AuditLogID, records[1].AuditLogID)
}

func TestWriteKeepsCallerID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewLogger(path, nil)
	require.NoError(t, err)

	id := NewID()
	logger.Write(Record{AuditLogID: id, Question: "q"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), id)
}

func TestConcurrentWritesStayLineSeparated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewLogger(path, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Write(Record{Question: "并发写入"})
		}()
	}
	wg.Wait()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		count++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 16, count)
}

func TestWriteFailureDoesNotPanic(t *testing.T) {
	// 目标路径是目录，OpenFile 必然失败，但 Write 只告警
	logger, err := NewLogger(t.TempDir(), nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		logger.Write(Record{Question: "q"})
	})
}
