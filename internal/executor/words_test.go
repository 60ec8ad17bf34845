package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShellWordsBasic(t *testing.T) {
	words, err := SplitShellWords("run --flag value")
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "--flag", "value"}, words)
}

func TestSplitShellWordsSingleQuotesSuppressExpansion(t *testing.T) {
	words, err := SplitShellWords(`echo 'a  b' "$HOME"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "a  b", "$HOME"}, words)
}

func TestSplitShellWordsDoubleQuotesPreserveWhitespace(t *testing.T) {
	words, err := SplitShellWords(`cmd "two words" tail`)
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd", "two words", "tail"}, words)
}

func TestSplitShellWordsDoubleQuoteEscapes(t *testing.T) {
	words, err := SplitShellWords(`cmd "a\"b\\c\$d"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd", `a"b\c$d`}, words)
}

func TestSplitShellWordsUnterminatedQuoteErrors(t *testing.T) {
	_, err := SplitShellWords(`cmd "unterminated`)
	require.Error(t, err)
}

func TestSplitShellWordsBackslashEscapeOutsideQuotes(t *testing.T) {
	words, err := SplitShellWords(`a\ b c`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a b", "c"}, words)
}

func TestCompileScriptResolvesRelativePath(t *testing.T) {
	spec, err := CompileScript("/srv/jobs/foo", "run.sh", []string{"--x"}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "/srv/jobs/foo/run.sh", spec.Path)
	assert.Equal(t, []string{"--x"}, spec.Args)
	assert.Equal(t, 3600, spec.TimeoutSeconds) // default applied
}

func TestCompileScriptArgsAndShellAreMutuallyExclusive(t *testing.T) {
	_, err := CompileScript("/srv/jobs/foo", "run.sh", []string{"--x"}, "--y", 0)
	require.Error(t, err)
}

func TestCompileScriptRequiresPath(t *testing.T) {
	_, err := CompileScript("/srv/jobs/foo", "", nil, "", 0)
	require.Error(t, err)
}

func TestCompileScriptShellFormSplits(t *testing.T) {
	spec, err := CompileScript("/srv/jobs/foo", "run.sh", nil, "--a 'b c'", 30)
	require.NoError(t, err)
	assert.Equal(t, []string{"--a", "b c"}, spec.Args)
	assert.Equal(t, 30, spec.TimeoutSeconds)
}
