package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Hara602/dirSentry/internal/journal"
	"github.com/Hara602/dirSentry/internal/monitor"
	"github.com/Hara602/dirSentry/internal/port"
)

const (
	DefaultFile = "/etc/dirsentry/dirsentry.yaml"
	EnvPrefix   = "DIRSENTRY"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Port    PortConfig    `mapstructure:"port"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Guard   GuardConfig   `mapstructure:"guard"`
	Tamper  TamperConfig  `mapstructure:"tamper"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type PortConfig struct {
	Socket string `mapstructure:"socket"`
}

type MonitorConfig struct {
	Requests int    `mapstructure:"requests"`
	Workers  int    `mapstructure:"workers"`
	Journal  string `mapstructure:"journal"` // 为空时不记录历史
}

// GuardConfig Source 为后端目录, MountPoint 为受保护视图; 两者都为空时不挂载
type GuardConfig struct {
	Source     string `mapstructure:"source"`
	MountPoint string `mapstructure:"mountpoint"`
	AllowOther bool   `mapstructure:"allow_other"`
	Debug      bool   `mapstructure:"debug"`
}

type TamperConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("port.socket", port.DefaultSocketPath)
	v.SetDefault("monitor.requests", monitor.DefaultRequests)
	v.SetDefault("monitor.workers", monitor.DefaultWorkers)
	v.SetDefault("monitor.journal", journal.DefaultPath)
	v.SetDefault("guard.source", "")
	v.SetDefault("guard.mountpoint", "")
	v.SetDefault("guard.allow_other", true)
	v.SetDefault("guard.debug", false)
	v.SetDefault("tamper.enabled", false)
}

// Load 默认值 < 配置文件 < 环境变量 < 命令行参数 (由调用方 BindPFlag)
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			file = DefaultFile
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.Port.Socket == "" {
		return fmt.Errorf("%w: port.socket is empty", ErrInvalid)
	}
	if c.Monitor.Requests < 1 || c.Monitor.Requests > port.MaxPosted {
		return fmt.Errorf("%w: monitor.requests must be in 1..%d", ErrInvalid, port.MaxPosted)
	}
	if c.Monitor.Workers < 1 || c.Monitor.Workers > monitor.MaxWorkers {
		return fmt.Errorf("%w: monitor.workers must be in 1..%d", ErrInvalid, monitor.MaxWorkers)
	}
	if (c.Guard.Source == "") != (c.Guard.MountPoint == "") {
		return fmt.Errorf("%w: guard.source and guard.mountpoint must be set together", ErrInvalid)
	}
	return nil
}

// GuardEnabled 是否需要挂载保护视图
func (c *Config) GuardEnabled() bool {
	return c.Guard.Source != "" && c.Guard.MountPoint != ""
}
