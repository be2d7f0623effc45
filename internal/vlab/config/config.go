// Package config 加载 vlab 配置
//
// 优先级：环境变量 > VLAB_CONFIG 指向的配置文件(.yaml/.yml/.toml) > 默认值。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config vlab 配置
type Config struct {
	// Address HTTP 监听地址，环境变量 VLAB_ADDRESS
	Address string

	// DataDir 数据目录，存放状态快照和锁文件，环境变量 VLAB_DATA_DIR
	// 默认：~/.local/share/vlab
	DataDir string

	// BaseImageDir 基础镜像目录，默认 <DataDir>/images
	BaseImageDir string
	// OverlayDir 节点 overlay 目录，默认 <DataDir>/overlays
	OverlayDir string

	// StoreDriver 状态存储：json、sqlite、bolt、memory
	StoreDriver string

	QemuImgPath    string
	// QemuImgTimeout 单次 qemu-img 调用的超时，环境变量 VLAB_QEMU_IMG_TIMEOUT
	QemuImgTimeout time.Duration
	QemuBinary     string
	MemoryMB       int

	// BaseVNCPort 和 MaxVNCPort 控制台端口范围（含两端）
	BaseVNCPort int
	MaxVNCPort  int

	// ConsoleHost 网关连接 VNC 端口使用的主机名
	// 网关跑在容器里时一般是 host.docker.internal
	ConsoleHost string

	// SettleDelay wipe 时终止进程后等待文件句柄释放的时间
	SettleDelay time.Duration

	Guacamole Guacamole

	// NATSURL 为空时不发布生命周期事件
	NATSURL string

	LogLevel string
}

// Guacamole 远程控制台网关配置，URL 为空时不注册连接
type Guacamole struct {
	URL        string
	PublicURL  string
	Username   string
	Password   string
	DataSource string
	Timeout    time.Duration
}

// Enabled 是否配置了网关
func (g Guacamole) Enabled() bool {
	return g.URL != ""
}

// LockPath 单实例锁文件路径
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "vlab.lock")
}

// fileConfig 配置文件格式，时长使用 "500ms" 这样的字符串
type fileConfig struct {
	Address      string `yaml:"address" toml:"address"`
	DataDir      string `yaml:"data_dir" toml:"data_dir"`
	BaseImageDir string `yaml:"base_image_dir" toml:"base_image_dir"`
	OverlayDir   string `yaml:"overlay_dir" toml:"overlay_dir"`
	StoreDriver  string `yaml:"store" toml:"store"`
	QemuImgPath  string `yaml:"qemu_img" toml:"qemu_img"`
	QemuImgTime  string `yaml:"qemu_img_timeout" toml:"qemu_img_timeout"`
	QemuBinary   string `yaml:"qemu_binary" toml:"qemu_binary"`
	MemoryMB     int    `yaml:"memory_mb" toml:"memory_mb"`
	BaseVNCPort  int    `yaml:"vnc_base_port" toml:"vnc_base_port"`
	MaxVNCPort   int    `yaml:"vnc_max_port" toml:"vnc_max_port"`
	ConsoleHost  string `yaml:"console_host" toml:"console_host"`
	SettleDelay  string `yaml:"settle_delay" toml:"settle_delay"`
	NATSURL      string `yaml:"nats_url" toml:"nats_url"`
	LogLevel     string `yaml:"log_level" toml:"log_level"`
	Guacamole    struct {
		URL        string `yaml:"url" toml:"url"`
		PublicURL  string `yaml:"public_url" toml:"public_url"`
		Username   string `yaml:"username" toml:"username"`
		Password   string `yaml:"password" toml:"password"`
		DataSource string `yaml:"data_source" toml:"data_source"`
		Timeout    string `yaml:"timeout" toml:"timeout"`
	} `yaml:"guacamole" toml:"guacamole"`
}

// New 从进程环境变量加载配置
func New() (*Config, error) {
	return Load(os.Getenv)
}

// Load 使用给定的环境变量查找函数加载配置
func Load(getenv func(string) string) (*Config, error) {
	cfg := defaults()

	if path := getenv("VLAB_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	// 依赖 DataDir 的默认值最后计算
	if cfg.BaseImageDir == "" {
		cfg.BaseImageDir = filepath.Join(cfg.DataDir, "images")
	}
	if cfg.OverlayDir == "" {
		cfg.OverlayDir = filepath.Join(cfg.DataDir, "overlays")
	}
	if cfg.Guacamole.PublicURL == "" {
		cfg.Guacamole.PublicURL = cfg.Guacamole.URL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Address:        "0.0.0.0:7777",
		DataDir:        defaultDataDir(),
		StoreDriver:    "json",
		QemuImgPath:    "qemu-img",
		QemuImgTimeout: 2 * time.Minute,
		QemuBinary:     "qemu-system-x86_64",
		MemoryMB:       512,
		BaseVNCPort:    5901,
		MaxVNCPort:     5999,
		ConsoleHost:    "host.docker.internal",
		SettleDelay:    500 * time.Millisecond,
		Guacamole: Guacamole{
			Username:   "guacadmin",
			Password:   "guacadmin",
			DataSource: "postgresql",
			Timeout:    10 * time.Second,
		},
		LogLevel: "info",
	}
}

// defaultDataDir 默认使用 ~/.local/share/vlab，拿不到主目录时使用 ./data
func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "vlab")
	}
	return filepath.Join(".", "data")
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		_, err = toml.Decode(string(data), &fc)
	default:
		return fmt.Errorf("unsupported config file %s: want .yaml, .yml or .toml", path)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Address, fc.Address)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.BaseImageDir, fc.BaseImageDir)
	setString(&c.OverlayDir, fc.OverlayDir)
	setString(&c.StoreDriver, fc.StoreDriver)
	setString(&c.QemuImgPath, fc.QemuImgPath)
	setString(&c.QemuBinary, fc.QemuBinary)
	setInt(&c.MemoryMB, fc.MemoryMB)
	setInt(&c.BaseVNCPort, fc.BaseVNCPort)
	setInt(&c.MaxVNCPort, fc.MaxVNCPort)
	setString(&c.ConsoleHost, fc.ConsoleHost)
	setString(&c.NATSURL, fc.NATSURL)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.Guacamole.URL, fc.Guacamole.URL)
	setString(&c.Guacamole.PublicURL, fc.Guacamole.PublicURL)
	setString(&c.Guacamole.Username, fc.Guacamole.Username)
	setString(&c.Guacamole.Password, fc.Guacamole.Password)
	setString(&c.Guacamole.DataSource, fc.Guacamole.DataSource)

	if err := setDuration(&c.SettleDelay, "settle_delay", fc.SettleDelay); err != nil {
		return err
	}
	if err := setDuration(&c.QemuImgTimeout, "qemu_img_timeout", fc.QemuImgTime); err != nil {
		return err
	}
	return setDuration(&c.Guacamole.Timeout, "guacamole.timeout", fc.Guacamole.Timeout)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.Address, getenv("VLAB_ADDRESS"))
	setString(&c.DataDir, getenv("VLAB_DATA_DIR"))
	setString(&c.BaseImageDir, getenv("VLAB_BASE_IMAGE_DIR"))
	setString(&c.OverlayDir, getenv("VLAB_OVERLAY_DIR"))
	setString(&c.StoreDriver, getenv("VLAB_STORE"))
	setString(&c.QemuImgPath, getenv("VLAB_QEMU_IMG"))
	setString(&c.QemuBinary, getenv("VLAB_QEMU_BINARY"))
	setString(&c.ConsoleHost, getenv("VLAB_CONSOLE_HOST"))
	setString(&c.NATSURL, getenv("VLAB_NATS_URL"))
	setString(&c.LogLevel, getenv("VLAB_LOG_LEVEL"))
	setString(&c.Guacamole.URL, getenv("VLAB_GUACAMOLE_URL"))
	setString(&c.Guacamole.PublicURL, getenv("VLAB_GUACAMOLE_PUBLIC_URL"))
	setString(&c.Guacamole.Username, getenv("VLAB_GUACAMOLE_USER"))
	setString(&c.Guacamole.Password, getenv("VLAB_GUACAMOLE_PASSWORD"))
	setString(&c.Guacamole.DataSource, getenv("VLAB_GUACAMOLE_DATASOURCE"))

	ints := []struct {
		key string
		dst *int
	}{
		{"VLAB_MEMORY_MB", &c.MemoryMB},
		{"VLAB_VNC_BASE_PORT", &c.BaseVNCPort},
		{"VLAB_VNC_MAX_PORT", &c.MaxVNCPort},
	}
	for _, it := range ints {
		v := getenv(it.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", it.key, v, err)
		}
		*it.dst = n
	}

	if err := setDuration(&c.SettleDelay, "VLAB_SETTLE_DELAY", getenv("VLAB_SETTLE_DELAY")); err != nil {
		return err
	}
	if err := setDuration(&c.QemuImgTimeout, "VLAB_QEMU_IMG_TIMEOUT", getenv("VLAB_QEMU_IMG_TIMEOUT")); err != nil {
		return err
	}
	return setDuration(&c.Guacamole.Timeout, "VLAB_GUACAMOLE_TIMEOUT", getenv("VLAB_GUACAMOLE_TIMEOUT"))
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "json", "sqlite", "bolt", "memory":
	default:
		return fmt.Errorf("invalid store driver %q: want json, sqlite, bolt or memory", c.StoreDriver)
	}
	if c.BaseVNCPort <= 5900 || c.MaxVNCPort > 65535 || c.MaxVNCPort < c.BaseVNCPort {
		return fmt.Errorf("invalid console port range %d-%d", c.BaseVNCPort, c.MaxVNCPort)
	}
	if c.MemoryMB <= 0 {
		return fmt.Errorf("invalid memory %d MB", c.MemoryMB)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("invalid settle delay %s", c.SettleDelay)
	}
	if c.QemuImgTimeout <= 0 {
		return fmt.Errorf("invalid qemu-img timeout %s", c.QemuImgTimeout)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
