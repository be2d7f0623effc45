// Package vlab 提供 vlab 服务器的主入口和初始化逻辑
package vlab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jimmicro/grace"
	"github.com/jimyag/vlab/internal/vlab/api"
	"github.com/jimyag/vlab/internal/vlab/config"
	"github.com/jimyag/vlab/internal/vlab/events"
	"github.com/jimyag/vlab/internal/vlab/metrics"
	"github.com/jimyag/vlab/internal/vlab/service"
	"github.com/jimyag/vlab/internal/vlab/store"
	"github.com/jimyag/vlab/pkg/filelock"
	"github.com/jimyag/vlab/pkg/guacamole"
	"github.com/jimyag/vlab/pkg/qemu"
	"github.com/jimyag/vlab/pkg/qemuimg"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg         *config.Config
	api         *api.API
	lock        *filelock.FileLock
	store       store.Store
	events      events.Publisher
	nodeService *service.NodeService
}

func New(cfg *config.Config) (*Server, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	gin.SetMode(gin.ReleaseMode)

	// 0. 同一个数据目录只允许一个进程管理
	lock := filelock.New(cfg.LockPath())
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, filelock.ErrLocked) {
			return nil, fmt.Errorf("another vlab instance is using %s: %w", cfg.DataDir, err)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	server := &Server{
		cfg:    cfg,
		lock:   lock,
		events: events.NopPublisher{},
	}
	if err := server.init(&logger); err != nil {
		server.close()
		return nil, err
	}
	return server, nil
}

func (s *Server) init(logger *zerolog.Logger) error {
	cfg := s.cfg

	// 1. 状态存储
	st, err := store.New(cfg.StoreDriver, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = st
	logger.Info().Str("driver", cfg.StoreDriver).Str("data_dir", cfg.DataDir).Msg("State store opened")

	if err := os.MkdirAll(cfg.OverlayDir, 0o755); err != nil {
		return fmt.Errorf("create overlay directory: %w", err)
	}

	// 2. 外部工具
	qemuImgClient := qemuimg.New(cfg.QemuImgPath).WithTimeout(cfg.QemuImgTimeout)
	supervisor := qemu.New(cfg.QemuBinary, cfg.MemoryMB)

	// 3. 远程控制台网关，未配置时不注册连接
	var gateway guacamole.Gateway
	if cfg.Guacamole.Enabled() {
		gateway = guacamole.New(guacamole.Config{
			BaseURL:    cfg.Guacamole.URL,
			PublicURL:  cfg.Guacamole.PublicURL,
			Username:   cfg.Guacamole.Username,
			Password:   cfg.Guacamole.Password,
			DataSource: cfg.Guacamole.DataSource,
			Timeout:    cfg.Guacamole.Timeout,
		})
		logger.Info().Str("guacamole_url", cfg.Guacamole.URL).Msg("Guacamole gateway enabled")
	} else {
		logger.Warn().Msg("Guacamole gateway not configured, console registration disabled")
	}

	// 4. 事件和指标
	publisher, err := events.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	s.events = publisher
	m := metrics.New()

	// 5. 节点服务
	s.nodeService = service.NewNodeService(
		service.Config{
			BaseImageDir: cfg.BaseImageDir,
			OverlayDir:   cfg.OverlayDir,
			ConsoleHost:  cfg.ConsoleHost,
			BaseVNCPort:  cfg.BaseVNCPort,
			MaxVNCPort:   cfg.MaxVNCPort,
			SettleDelay:  cfg.SettleDelay,
		},
		st,
		qemuImgClient,
		supervisor,
		gateway,
		service.WithEvents(publisher),
		service.WithMetrics(m),
	)

	// 5.1 上次退出后已经不存在的进程标记为停止
	ctx := logger.WithContext(context.Background())
	changed, err := s.nodeService.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile nodes: %w", err)
	}
	logger.Info().Int("changed", changed).Msg("Nodes reconciled")

	// 6. API
	s.api = api.New(cfg.Address, s.nodeService, m)
	return nil
}

func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	// 使用 grace.Shepherd 管理服务生命周期
	services := []grace.Grace{
		s.api,
	}

	shepherd := grace.NewShepherd(
		services,
		grace.WithTimeout(30*time.Second),
		grace.WithLogger(&zerologLogger{}),
	)

	shepherd.Start(ctx)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.api.Shutdown(ctx)
	s.close()
	return err
}

// Name 实现 grace.Grace 接口
func (s *Server) Name() string {
	return "vlab Server"
}

// close 释放存储、事件连接和实例锁，可重复调用
func (s *Server) close() {
	if s.events != nil {
		s.events.Close()
		s.events = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			zerolog.DefaultContextLogger.Warn().Err(err).Msg("Failed to close store")
		}
		s.store = nil
	}
	if s.lock != nil {
		_ = s.lock.Unlock()
		s.lock = nil
	}
}

// zerologLogger 实现 grace.Logger 接口
type zerologLogger struct{}

func (l *zerologLogger) Info(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Info()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Error()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}
