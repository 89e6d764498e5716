// Package iniloader reads the legacy client.ini layout:
//
//	[server]
//	host = 192.168.4.194
//	port = 8088
//	user = client-a
//	pass = secret
//
//	[ruokuai]
//	enable = true
//	rk_user = ...
//	rk_pass = ...
//
//	[Registration]
//	region = ...
//	random = 1
//	phone = remote
package iniloader

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ahrav/reg-armada/internal/config"
)

// Legacy defaults for the worker program that shipped next to client.ini.
const (
	legacyWorkerCommand = "python3"
	legacyWorkerScript  = "zcqq.py"
	ruokuaiBackend      = "ruokuai"
)

type legacyConfig struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
		User string `mapstructure:"user"`
		Pass string `mapstructure:"pass"`
	} `mapstructure:"server"`

	Ruokuai struct {
		Enable bool   `mapstructure:"enable"`
		User   string `mapstructure:"rk_user"`
		Pass   string `mapstructure:"rk_pass"`
	} `mapstructure:"ruokuai"`

	Registration struct {
		Region    string   `mapstructure:"region"`
		Random    int      `mapstructure:"random"`
		Phone     string   `mapstructure:"phone"`
		PhoneList []string `mapstructure:"phone_list"`
	} `mapstructure:"registration"`

	Worker struct {
		Command  string        `mapstructure:"command"`
		Args     []string      `mapstructure:"args"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"worker"`
}

// Loader reads client.ini files with viper.
type Loader struct {
	path string
}

// New creates a Loader for path.
func New(path string) *Loader { return &Loader{path: path} }

// Load parses the INI file and maps it onto config.Config.
func (l *Loader) Load(ctx context.Context) (*config.Config, error) {
	v := viper.New()
	v.SetConfigFile(l.path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw legacyConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return raw.toConfig(), nil
}

func (lc legacyConfig) toConfig() *config.Config {
	cfg := &config.Config{}

	cfg.Server.Host = lc.Server.Host
	cfg.Server.Port = lc.Server.Port
	cfg.Server.Client = lc.Server.User
	cfg.Server.Password = lc.Server.Pass

	if lc.Ruokuai.Enable {
		cfg.Captcha.Backend = ruokuaiBackend
		cfg.Captcha.Backends = map[string]config.CaptchaAuth{
			ruokuaiBackend: {User: lc.Ruokuai.User, Password: lc.Ruokuai.Pass},
		}
	}

	cfg.Registration.Region = lc.Registration.Region
	cfg.Registration.Random = lc.Registration.Random
	cfg.Registration.Phone = config.PhoneSourceType(strings.ToLower(strings.TrimSpace(lc.Registration.Phone)))
	cfg.Registration.PhoneList = trimAll(lc.Registration.PhoneList)

	cfg.Worker.Command = lc.Worker.Command
	cfg.Worker.Args = trimAll(lc.Worker.Args)
	if cfg.Worker.Command == "" {
		cfg.Worker.Command, cfg.Worker.Args = legacyWorker(runtime.GOOS)
	}
	cfg.Worker.DispatchInterval = lc.Worker.Interval

	return cfg
}

// legacyWorker returns the interpreter invocation for the bundled worker
// script. Windows goes through the py launcher.
func legacyWorker(goos string) (string, []string) {
	if goos == "windows" {
		return "py", []string{"-3", legacyWorkerScript}
	}
	return legacyWorkerCommand, []string{legacyWorkerScript}
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
