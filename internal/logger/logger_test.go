package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesJSONAndErrorFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	log, err := NewLogger(dir, "debug")
	require.NoError(t, err)

	log.Component("scanner").Info("扫描完成")
	log.Error("存储失败")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(filepath.Join(dir, "basisgate.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "扫描完成", first["msg"])
	assert.Equal(t, "scanner", first["component"])

	errData, err := os.ReadFile(filepath.Join(dir, "basisgate_error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errData), "存储失败")
	assert.NotContains(t, string(errData), "扫描完成")
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := NewLogger(t.TempDir(), "verbose")
	require.NoError(t, err)
	defer log.Close()

	assert.False(t, log.Core().Enabled(-1)) // debug
	assert.True(t, log.Core().Enabled(0))   // info
}
