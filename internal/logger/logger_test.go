package logger

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritersDerivesPathsFromDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}

	stdout, stderr, err := cfg.Writers("worker-1")
	require.NoError(t, err)
	require.NotNil(t, stdout)
	require.NotNil(t, stderr)

	_, err = stdout.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.NoError(t, stdout.Close())
	assert.FileExists(t, filepath.Join(dir, "worker-1.stdout.log"))
}

func TestWritersPrefersExplicitPathOverDir(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "custom.log")
	cfg := Config{Dir: dir, StdoutPath: explicit}

	stdout, _, err := cfg.Writers("worker-1")
	require.NoError(t, err)
	_, err = stdout.Write([]byte("x"))
	require.NoError(t, err)
	assert.NoError(t, stdout.Close())
	assert.FileExists(t, explicit)
}

func TestWritersReturnsNilWhenNoDestinationConfigured(t *testing.T) {
	cfg := Config{}
	stdout, stderr, err := cfg.Writers("worker-1")
	require.NoError(t, err)
	assert.Nil(t, stdout)
	assert.Nil(t, stderr)
}

func TestNewSlogDefaultsToJSONHandler(t *testing.T) {
	log := NewSlog(Config{}, "chiefd", false)
	require.NotNil(t, log)
	_, isJSON := log.Handler().(*slog.JSONHandler)
	assert.True(t, isJSON, "without color, the process logger emits JSON")
}

func TestNewSlogUsesColorTextHandlerWhenRequestedAndNoFileConfigured(t *testing.T) {
	log := NewSlog(Config{}, "chiefd", true)
	require.NotNil(t, log)
	_, isColor := log.Handler().(*ColorTextHandler)
	assert.True(t, isColor, "a color-requested, file-less config must use ColorTextHandler")
}

func TestNewSlogIgnoresColorWhenAFileIsConfigured(t *testing.T) {
	dir := t.TempDir()
	log := NewSlog(Config{Dir: dir}, "chiefd", true)
	require.NotNil(t, log)
	_, isColor := log.Handler().(*ColorTextHandler)
	assert.False(t, isColor, "rotated log files must stay JSON regardless of --color")
}

func TestTailCaptureRetainsOnlyTheLastMaxBytes(t *testing.T) {
	tc := NewTailCapture(10)
	_, err := tc.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = tc.Write([]byte("abcde"))
	require.NoError(t, err)

	assert.Equal(t, "56789abcde", tc.String())
}

func TestTailCaptureDefaultsWhenMaxBytesNonPositive(t *testing.T) {
	tc := NewTailCapture(0)
	_, err := tc.Write([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi", tc.String())
}

func TestTailCaptureNeverExceedsBudgetAcrossManyWrites(t *testing.T) {
	tc := NewTailCapture(5)
	for i := 0; i < 100; i++ {
		_, err := tc.Write([]byte("x"))
		require.NoError(t, err)
	}
	assert.Equal(t, "xxxxx", tc.String())
}

func TestColorTextHandlerPrependsColorCodeAndDelegatesFormatting(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, nil, true)

	slog.New(h).Info("hello")
	assert.Contains(t, buf.String(), "\033[32m")
	assert.Contains(t, buf.String(), "hello")
}

func TestColorTextHandlerSurvivesWithAttrsAndStillColors(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, nil, true)

	slog.New(h).With("component", "chiefd").Info("hello")
	assert.Contains(t, buf.String(), "\033[32m", "WithAttrs must not unwrap back to a plain TextHandler")
	assert.Contains(t, buf.String(), "component=chiefd")
}
