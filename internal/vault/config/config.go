// Package config resolves the vault root and WAL directory the
// transaction engine operates against. The WAL directory defaults to a
// user-scoped configuration directory so it is never inside the (often
// cloud-synced) vault itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	envVaultRoot      = "MCP_LIFEOS_VAULT_ROOT"
	envWALDir         = "MCP_LIFEOS_WAL_DIR"
	envDisableRecover = "MCP_LIFEOS_DISABLE_RECOVERY"
	envMinAgeSeconds  = "MCP_LIFEOS_RECOVERY_MIN_AGE_SECONDS"

	appDirName        = "mcp-lifeos"
	defaultMinAgeSecs = 60
)

// Config is the read-only configuration surface every entrypoint
// (CLI, recovery runner) constructs once at startup.
type Config interface {
	VaultRoot() string
	WALDir() string
	DisableRecovery() bool
	RecoveryMinAge() time.Duration
}

type appConfig struct {
	vaultRoot       string
	walDir          string
	disableRecovery bool
	recoveryMinAge  time.Duration
}

func (c *appConfig) VaultRoot() string             { return c.vaultRoot }
func (c *appConfig) WALDir() string                { return c.walDir }
func (c *appConfig) DisableRecovery() bool         { return c.disableRecovery }
func (c *appConfig) RecoveryMinAge() time.Duration { return c.recoveryMinAge }

// Load resolves configuration from the environment, falling back to
// os.UserConfigDir()/mcp-lifeos/wal for the WAL directory when
// MCP_LIFEOS_WAL_DIR is unset. MCP_LIFEOS_VAULT_ROOT, when set, takes
// precedence over the vaultRoot argument (typically a CLI flag); with
// neither set Load fails, as the vault root has no OS-level default.
func Load(vaultRoot string) (Config, error) {
	if env := os.Getenv(envVaultRoot); env != "" {
		vaultRoot = env
	}
	if vaultRoot == "" {
		return nil, fmt.Errorf("config: vault root is required (set %s or pass --vault)", envVaultRoot)
	}
	absVaultRoot, err := filepath.Abs(vaultRoot)
	if err != nil {
		return nil, fmt.Errorf("config: resolve vault root %q: %w", vaultRoot, err)
	}

	walDir := os.Getenv(envWALDir)
	if walDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("config: resolve user config dir: %w", err)
		}
		walDir = filepath.Join(base, appDirName, "wal")
	}
	absWALDir, err := filepath.Abs(walDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve wal dir %q: %w", walDir, err)
	}

	minAge := time.Duration(defaultMinAgeSecs) * time.Second
	if raw := os.Getenv(envMinAgeSeconds); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid %s %q: %w", envMinAgeSeconds, raw, err)
		}
		minAge = time.Duration(secs) * time.Second
	}

	return &appConfig{
		vaultRoot:       absVaultRoot,
		walDir:          absWALDir,
		disableRecovery: os.Getenv(envDisableRecover) == "1" || os.Getenv(envDisableRecover) == "true",
		recoveryMinAge:  minAge,
	}, nil
}
