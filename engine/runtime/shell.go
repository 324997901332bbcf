package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

type OS string

const (
	OSWindows OS = "windows"
	OSLinux   OS = "linux"
	OSMacOS   OS = "macos"
	OSUnknown OS = "unknown"
)

type Shell string

const (
	ShellCMD Shell = "cmd"
	ShellSH  Shell = "sh"
)

// ShellForOS returns the shell used to run step scripts on the given OS.
func ShellForOS(platform OS) (Shell, error) {
	switch platform {
	case OSWindows:
		return ShellCMD, nil
	case OSLinux, OSMacOS:
		return ShellSH, nil
	default:
		return "", fmt.Errorf("error unsupported OS: %v", platform)
	}
}

func ShellPath(shell Shell) (string, error) {
	switch shell {
	case ShellCMD:
		return "C:\\Windows\\System32\\cmd.exe", nil
	case ShellSH:
		return "/bin/sh", nil
	default:
		return "", fmt.Errorf("error unknown shell: %v", shell)
	}
}

func GetHostOS() OS {
	switch runtime.GOOS {
	case "windows":
		return OSWindows
	case "darwin":
		return OSMacOS
	case "linux":
		return OSLinux
	default:
		return OSUnknown
	}
}

// WriteScript writes the commands of one step to an executable script file in
// dir. Scripts for sh stop at the first failing command and propagate its
// exit code, so a step fails as soon as any of its commands does.
func WriteScript(dir string, name string, shell Shell, commands []string) (string, error) {
	path := filepath.Join(dir, name)
	lines := commands
	if shell == ShellSH {
		lines = append([]string{"set -e"}, commands...)
	}
	err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0755)
	if err != nil {
		return "", fmt.Errorf("error writing script %q: %w", name, err)
	}
	return path, nil
}
