package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("ADMIN_USERS", "1:2")
	t.Setenv("GROUP_NAMES", "gdg-aracaju,gdg-maceio")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "token", cfg.TelegramBotToken)
	assert.Equal(t, []int64{1, 2}, cfg.AdminUsers)
	assert.Equal(t, []string{"gdg-aracaju", "gdg-maceio"}, cfg.GroupNames)
	assert.Equal(t, DriverSQLite, cfg.StorageDriver)
	assert.Equal(t, SourceMeetup, cfg.EventsSource)
	assert.Equal(t, 60*time.Second, cfg.EventsCacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.BookCacheTTL)
	assert.Equal(t, 5, cfg.EventsListSize)
}

func TestLoad_FileOverridesEnv(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("TIMEZONE", "UTC")
	p := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
storage_driver: file
state_file_path: /tmp/states.json
events_source: facebook
group_names: [one, two]
command_cooldown: 30s
`), 0o644))

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, DriverFile, cfg.StorageDriver)
	assert.Equal(t, "/tmp/states.json", cfg.StateFilePath)
	assert.Equal(t, SourceFacebook, cfg.EventsSource)
	assert.Equal(t, []string{"one", "two"}, cfg.GroupNames)
	assert.Equal(t, 30*time.Second, cfg.CommandCooldown)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("STORAGE_DRIVER", "postgres")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("STORAGE_DRIVER", "file")
	t.Setenv("TIMEZONE", "Not/AZone")
	_, err = Load("")
	assert.Error(t, err)
}
