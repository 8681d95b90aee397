package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/badgeteam/badgefs/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig_WithNilOverride tests that NewConfig creates a config with
// all default values when no override is provided.
func TestNewConfig_WithNilOverride(t *testing.T) {
	t.Parallel()

	cfg := NewConfig(nil)

	require.NotNil(t, cfg)
	assert.Equal(t, NewDefaultConfig(), cfg, "must use default values when no override provided")
}

func TestNewConfig_WithAllOverride(t *testing.T) {
	t.Parallel()

	override := &Override{
		Debug:                 util.Pointer(true),
		FsName:                util.Pointer("test_fs"),
		Name:                  util.Pointer("test_name"),
		LogLvl:                util.Pointer(util.TraceLevel),
		RequestTimeoutMs:      util.Pointer(2500),
		HeartbeatIntervalMs:   util.Pointer(100),
		ConsoleBacklog:        util.Pointer(16),
		ConsolePollIntervalMs: util.Pointer(50),
		AttrTimeout:           util.Pointer(2.5),
		EntryTimeout:          util.Pointer(0.5),
	}
	cfg := NewConfig(override)

	expCfg := &Config{
		MountOptions: MountOptions{
			Debug:  true,
			FsName: "test_fs",
			Name:   "test_name",
		},
		LogLvl:              util.TraceLevel,
		RequestTimeout:      2500 * time.Millisecond,
		HeartbeatInterval:   100 * time.Millisecond,
		ConsoleBacklog:      16,
		ConsolePollInterval: 50 * time.Millisecond,
		AttrTimeout:         2.5,
		EntryTimeout:        0.5,
	}
	require.NotNil(t, cfg)
	assert.Equal(t, expCfg, cfg, "must override all provided fields")
}

func TestConfig_Merge_Partial(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.Merge(&Override{RequestTimeoutMs: util.Pointer(1000)})

	assert.Equal(t, time.Second, cfg.RequestTimeout)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval, "unset fields keep defaults")
	assert.Equal(t, DefaultConsolePollInterval, cfg.ConsolePollInterval)
	assert.Equal(t, DefaultFsName, cfg.MountOptions.FsName)
}

func TestLoadOverrideFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
	}{
		{
			name:    "yaml override",
			file:    "cfg.yaml",
			content: "fs_name: mybadge\nrequest_timeout_ms: 1500\n",
		},
		{
			name:    "json override",
			file:    "cfg.json",
			content: `{"fs_name": "mybadge", "request_timeout_ms": 1500}`,
		},
		{
			name:    "unknown extension",
			file:    "cfg.toml",
			content: "fs_name = \"mybadge\"",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			override, err := LoadOverrideFile(path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, override.FsName)
			assert.Equal(t, "mybadge", *override.FsName)
			require.NotNil(t, override.RequestTimeoutMs)
			assert.Equal(t, 1500, *override.RequestTimeoutMs)
			assert.Nil(t, override.HeartbeatIntervalMs)
		})
	}
}

func TestNewConfigFromFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := NewConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
