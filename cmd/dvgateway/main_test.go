package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbehnke/dvgateway/internal/config"
	"github.com/dbehnke/dvgateway/internal/modem"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

func TestDailyFile_Rotates(t *testing.T) {
	dir := t.TempDir()
	d, err := newDailyFile(dir, "DVGW")
	require.NoError(t, err)
	defer d.Close()

	day := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	d.now = func() time.Time { return day }
	_, err = d.Write([]byte("one\n"))
	require.NoError(t, err)

	day = day.Add(2 * time.Minute)
	_, err = d.Write([]byte("two\n"))
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(dir, "DVGW-2024-03-09.log"))
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(first))
	second, err := os.ReadFile(filepath.Join(dir, "DVGW-2024-03-10.log"))
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(second))
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		n    uint32
		want log.Level
	}{
		{1, log.DebugLevel},
		{2, log.InfoLevel},
		{3, log.InfoLevel},
		{4, log.WarnLevel},
		{5, log.ErrorLevel},
		{6, log.FatalLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, logLevel(tt.n), "level %d", tt.n)
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewConfig("")
	require.NoError(t, cfg.LoadFromString("[Log]\nDisplayLevel=4\nFileLevel=1\nFilePath="+dir+"\nFileRoot=GW\n"))

	var stderr bytes.Buffer
	logger, closer, err := newLogger(cfg, &stderr)
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())

	logger.Debug("hello")
	require.NoError(t, closer.Close())

	assert.Contains(t, stderr.String(), "hello")
	matches, err := filepath.Glob(filepath.Join(dir, "GW-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	body, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello")
}

func TestNewLogger_Silent(t *testing.T) {
	cfg := config.NewConfig("")
	require.NoError(t, cfg.LoadFromString("[Log]\nDisplayLevel=0\nFileLevel=0\n"))
	logger, closer, err := newLogger(cfg, os.Stderr)
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.Equal(t, log.FatalLevel, logger.GetLevel())
}

func TestModemMode(t *testing.T) {
	assert.Equal(t, byte(modem.MODE_DSTAR), modemMode(protocol.KIND_DCS))
	assert.Equal(t, byte(modem.MODE_YSF), modemMode(protocol.KIND_FCS))
	assert.Equal(t, byte(modem.MODE_M17), modemMode(protocol.KIND_M17))
	assert.Equal(t, byte(modem.MODE_IDLE), modemMode(protocol.KIND_NONE))
}
