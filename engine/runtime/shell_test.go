package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellForOS(t *testing.T) {
	shell, err := ShellForOS(OSLinux)
	require.NoError(t, err)
	assert.Equal(t, ShellSH, shell)

	shell, err = ShellForOS(OSMacOS)
	require.NoError(t, err)
	assert.Equal(t, ShellSH, shell)

	shell, err = ShellForOS(OSWindows)
	require.NoError(t, err)
	assert.Equal(t, ShellCMD, shell)

	_, err = ShellForOS(OSUnknown)
	require.Error(t, err)
}

func TestWriteScript(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteScript(dir, "step-install", ShellSH, []string{
		"pip install -r requirements.txt",
		"pip check",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "step-install"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// sh scripts fail fast so a failing command fails the step
	assert.Equal(t, "set -e\npip install -r requirements.txt\npip check\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100, "script must be executable")
}

func TestWriteScriptCMD(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteScript(dir, "step-install.bat", ShellCMD, []string{"echo hello"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "echo hello\n", string(data), "cmd scripts must not get sh prologue")
}
