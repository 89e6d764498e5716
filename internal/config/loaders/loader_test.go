package loaders

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/reg-armada/internal/config"
	"github.com/ahrav/reg-armada/internal/config/fileloader"
	"github.com/ahrav/reg-armada/internal/config/iniloader"
)

const yamlConfig = `
server:
  host: 127.0.0.1
  port: 8088
  client: client-a
  password: secret
captcha:
  backend: ruokuai
  backends:
    ruokuai:
      user: rk
      password: rkpass
registration:
  region: cn
  random: 1
inventory:
  cache_file: phones.json
worker:
  command: python3
  args: [zcqq.py]
  dispatch_interval: 2s
  max_concurrent: 4
`

const iniConfig = `
[server]
host = 192.168.4.194
port = 8088
user = client-a
pass = secret

[ruokuai]
enable = true
rk_user = rk
rk_pass = rkpass

[Registration]
region = cn
random = 1
phone = local
phone_list = 111,222
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestForPath(t *testing.T) {
	assert.IsType(t, &iniloader.Loader{}, ForPath("client.INI"))
	assert.IsType(t, &fileloader.FileLoader{}, ForPath("client.yaml"))
	assert.IsType(t, &fileloader.FileLoader{}, ForPath("client"))
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "client.yaml", yamlConfig)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8088", cfg.Server.BaseURL())
	assert.Equal(t, "client-a", cfg.Server.Client)
	assert.Equal(t, "ruokuai", cfg.Captcha.Backend)
	auth, ok := cfg.CaptchaCredentials()
	require.True(t, ok)
	assert.Equal(t, "rk", auth.User)
	assert.Equal(t, "phones.json", cfg.Inventory.CacheFile)
	assert.Equal(t, 2*time.Second, cfg.Worker.DispatchInterval)
	assert.Equal(t, 4, cfg.Worker.MaxConcurrent)
	assert.Equal(t, []string{"zcqq.py"}, cfg.Worker.Args)
}

func TestLoad_YAMLRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "client.yaml", yamlConfig+"\nbogus: true\n")

	_, err := Load(context.Background(), path)
	require.Error(t, err)
}

func TestLoad_LegacyINI(t *testing.T) {
	path := writeFile(t, "client.ini", iniConfig)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.4.194:8088", cfg.Server.Address())
	assert.Equal(t, "client-a", cfg.Server.Client)
	assert.Equal(t, "secret", cfg.Server.Password)
	assert.Equal(t, "ruokuai", cfg.Captcha.Backend)
	assert.Equal(t, config.PhoneSourceLocal, cfg.Registration.Phone)
	assert.Equal(t, []string{"111", "222"}, cfg.Registration.PhoneList)
	assert.Equal(t, 1, cfg.Registration.Random)
	assert.Equal(t, "python3", cfg.Worker.Command)
	assert.Equal(t, []string{"zcqq.py"}, cfg.Worker.Args)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
