package sprite

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Provision prepares a sprite for running the agent: it creates the sprite if
// needed, lays out Home, and copies Claude credentials and git identity.
func Provision(ctx context.Context, client Client, name string) error {
	if _, err := Ensure(ctx, client, name); err != nil {
		return err
	}

	_, stderr, exitCode, err := client.ExecuteOutput(ctx, name, "", nil, "mkdir", "-p", WorkspaceDir, ClaudeDir)
	if err != nil {
		return fmt.Errorf("failed to create sprite directories: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("mkdir failed with exit code %d: %s", exitCode, bytes.TrimSpace(stderr))
	}

	if err := CopyClaudeCredentials(ctx, client, name); err != nil {
		return err
	}
	return SetupGitConfig(ctx, client, name)
}

// SetupGitConfig copies git user.name and user.email from the local machine
// to GitConfigPath on the Sprite.
func SetupGitConfig(ctx context.Context, client Client, name string) error {
	for _, key := range []string{"user.name", "user.email"} {
		value, err := getLocalGitConfig(key)
		if err != nil {
			return fmt.Errorf("failed to get local git %s: %w", key, err)
		}
		if value == "" {
			continue
		}
		_, _, exitCode, err := client.ExecuteOutput(ctx, name, "", nil, "git", "config", "--file", GitConfigPath, key, value)
		if err != nil {
			return fmt.Errorf("failed to set git %s: %w", key, err)
		}
		if exitCode != 0 {
			return fmt.Errorf("git config %s failed with exit code %d", key, exitCode)
		}
	}
	return nil
}

// getLocalGitConfig retrieves a git config value from the local machine.
func getLocalGitConfig(key string) (string, error) {
	output, err := exec.Command("git", "config", "--get", key).Output()
	if err != nil {
		// Exit code 1 means the key is unset.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return "", nil
		}
		return "", err
	}
	return string(bytes.TrimSpace(output)), nil
}

// CopyClaudeCredentials copies local Claude credentials to ClaudeDir on the
// Sprite.
func CopyClaudeCredentials(ctx context.Context, client Client, name string) error {
	credentials, err := GetLocalClaudeCredentials()
	if err != nil {
		return err
	}
	if err := client.WriteFile(ctx, name, filepath.Join(ClaudeDir, ".credentials.json"), credentials); err != nil {
		return fmt.Errorf("failed to write credentials to sprite: %w", err)
	}
	return nil
}

// GetLocalClaudeCredentials retrieves Claude credentials from the local
// machine: the macOS Keychain first, then the credentials files under HOME.
func GetLocalClaudeCredentials() ([]byte, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return readCredentials(homeDir, keychainCredentials)
}

func keychainCredentials() []byte {
	if runtime.GOOS != "darwin" {
		return nil
	}
	output, err := exec.Command("security", "find-generic-password", "-s", "Claude Code-credentials", "-w").Output()
	if err != nil {
		return nil
	}
	return bytes.TrimSpace(output)
}

func readCredentials(homeDir string, keychain func() []byte) ([]byte, error) {
	if creds := keychain(); len(creds) > 0 {
		return creds, nil
	}
	for _, p := range []string{
		filepath.Join(homeDir, ".claude", ".credentials.json"),
		filepath.Join(homeDir, ".config", "claude", ".credentials.json"),
	} {
		if data, err := os.ReadFile(p); err == nil && len(data) > 0 {
			return data, nil
		}
	}
	return nil, fmt.Errorf("claude credentials not found; run 'claude login' first")
}
