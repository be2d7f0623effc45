// Package service 提供节点生命周期管理
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jimyag/vlab/internal/vlab/entity"
	"github.com/jimyag/vlab/internal/vlab/events"
	"github.com/jimyag/vlab/internal/vlab/metrics"
	"github.com/jimyag/vlab/internal/vlab/store"
	"github.com/jimyag/vlab/pkg/apierror"
	"github.com/jimyag/vlab/pkg/guacamole"
	"github.com/jimyag/vlab/pkg/idgen"
	"github.com/jimyag/vlab/pkg/qemu"
	"github.com/jimyag/vlab/pkg/qemuimg"
	"github.com/rs/zerolog"
)

// 操作名，用于日志和指标
const (
	OpCreate    = "create"
	OpStart     = "start"
	OpStop      = "stop"
	OpWipe      = "wipe"
	OpDelete    = "delete"
	OpReconcile = "reconcile"
)

// Config NodeService 配置
type Config struct {
	BaseImageDir string        // 基础镜像目录
	OverlayDir   string        // overlay 目录
	ConsoleHost  string        // 网关访问 VNC 端口时使用的主机名
	BaseVNCPort  int           // 第一个可分配的控制台端口
	MaxVNCPort   int           // 最后一个可分配的控制台端口
	SettleDelay  time.Duration // 终止进程后到替换 overlay 之间的等待
}

// IDGenerator 节点 ID 生成器
type IDGenerator interface {
	GenerateNodeID() (string, error)
}

// Option NodeService 可选项
type Option func(*NodeService)

// WithEvents 设置事件发布者
func WithEvents(p events.Publisher) Option {
	return func(s *NodeService) {
		if p != nil {
			s.events = p
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *NodeService) {
		s.metrics = m
	}
}

// WithIDGenerator 设置 ID 生成器
func WithIDGenerator(g IDGenerator) Option {
	return func(s *NodeService) {
		if g != nil {
			s.idGen = g
		}
	}
}

// WithClock 设置时间来源
func WithClock(now func() time.Time) Option {
	return func(s *NodeService) {
		if now != nil {
			s.now = now
		}
	}
}

// NodeService 节点生命周期管理
//
// 所有操作共用一把互斥锁，锁覆盖 读取快照 -> 外部副作用 -> 写回快照 的全过程，
// 因此端口分配和快照写入不会出现丢失更新。
// gateway 为 nil 时不注册远程控制台连接。
type NodeService struct {
	mu sync.Mutex

	cfg        Config
	store      store.Store
	overlays   *OverlayDriver
	supervisor qemu.Supervisor
	gateway    guacamole.Gateway
	idGen      IDGenerator
	events     events.Publisher
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewNodeService 创建节点服务
func NewNodeService(
	cfg Config,
	st store.Store,
	qemuImg qemuimg.QemuImgClient,
	supervisor qemu.Supervisor,
	gateway guacamole.Gateway,
	opts ...Option,
) *NodeService {
	if cfg.BaseVNCPort == 0 {
		cfg.BaseVNCPort = qemu.VNCBasePort + 1
	}
	if cfg.MaxVNCPort == 0 {
		cfg.MaxVNCPort = qemu.VNCBasePort + 99
	}
	if cfg.ConsoleHost == "" {
		cfg.ConsoleHost = "127.0.0.1"
	}

	s := &NodeService{
		cfg:        cfg,
		store:      st,
		overlays:   NewOverlayDriver(qemuImg),
		supervisor: supervisor,
		gateway:    gateway,
		idGen:      idgen.New(),
		events:     events.NopPublisher{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListNodes 列出所有节点
func (s *NodeService) ListNodes(ctx context.Context) ([]entity.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(ctx)
}

// GetNode 获取单个节点
func (s *NodeService) GetNode(ctx context.Context, id string) (*entity.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := findNode(nodes, id)
	if err != nil {
		return nil, err
	}
	return &nodes[idx], nil
}

// CreateNode 基于基础镜像创建一个停止状态的节点
func (s *NodeService) CreateNode(ctx context.Context, baseImage string) (node *entity.Node, err error) {
	defer s.observe(OpCreate, time.Now(), &err)
	logger := zerolog.Ctx(ctx)

	basePath, err := s.resolveBaseImage(baseImage)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	id, err := s.idGen.GenerateNodeID()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate node ID")
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to generate node ID", err)
	}
	if _, err := findNode(nodes, id); err == nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, fmt.Sprintf("generated node ID %s already exists", id), nil)
	}

	overlayPath := filepath.Join(s.cfg.OverlayDir, id+".qcow2")
	if err := s.overlays.Create(ctx, basePath, overlayPath); err != nil {
		logger.Error().Err(err).Str("node_id", id).Str("base_image", basePath).Msg("Failed to create overlay")
		return nil, err
	}

	now := s.now().UTC()
	nodes = append(nodes, entity.Node{
		ID:          id,
		Status:      entity.NodeStatusStopped,
		OverlayPath: overlayPath,
		BaseImage:   basePath,
		CreatedAt:   now,
		UpdatedAt:   now,
	})

	if err := s.save(ctx, nodes); err != nil {
		// 记录没写进去，overlay 也不要留下
		if derr := s.overlays.Delete(ctx, overlayPath); derr != nil {
			logger.Warn().Err(derr).Str("overlay_path", overlayPath).Msg("Failed to remove overlay after store failure")
		}
		return nil, err
	}

	created := nodes[len(nodes)-1]
	logger.Info().
		Str("node_id", id).
		Str("base_image", basePath).
		Str("overlay_path", overlayPath).
		Msg("Node created")
	s.publish(ctx, events.TypeCreated, created)
	return &created, nil
}

// StartNode 启动节点；已经在运行时直接返回当前记录
func (s *NodeService) StartNode(ctx context.Context, id string) (node *entity.Node, err error) {
	defer s.observe(OpStart, time.Now(), &err)
	logger := zerolog.Ctx(ctx).With().Str("node_id", id).Logger()

	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := findNode(nodes, id)
	if err != nil {
		return nil, err
	}
	n := &nodes[idx]

	if n.IsRunning() {
		logger.Debug().Msg("Node already running")
		return n, nil
	}

	if !s.overlays.Exists(n.OverlayPath) {
		return nil, apierror.WrapError(apierror.ErrOverlayMissing,
			fmt.Sprintf("overlay %s of node %s is missing, wipe the node to recreate it", n.OverlayPath, id), nil)
	}

	port, err := AllocatePort(s.cfg.BaseVNCPort, s.cfg.MaxVNCPort, occupiedPorts(nodes))
	if err != nil {
		return nil, err
	}

	pid, err := s.supervisor.Spawn(ctx, qemu.LaunchSpec{
		Name:     id,
		DiskPath: n.OverlayPath,
		VNCPort:  port,
	})
	if err != nil {
		logger.Error().Err(err).Int("vnc_port", port).Msg("Failed to spawn hypervisor")
		return nil, apierror.WrapError(apierror.ErrSpawn, "Failed to start the hypervisor process", err)
	}

	// 回滚只针对本次操作新建的资源
	var registered string
	rollback := func() {
		results := []CleanupResult{s.terminate(pid)}
		if registered != "" {
			results = append(results, s.deleteConnection(ctx, registered))
		}
		logCleanups(&logger, OpStart, results)
	}

	connID, connURL := n.GuacamoleConnectionID, n.GuacamoleURL
	if connID == nil && s.gateway != nil {
		cid, err := s.gateway.CreateConnection(ctx, guacamole.ConnectionSpec{
			NodeID:   n.ID,
			Hostname: s.cfg.ConsoleHost,
			Port:     port,
		})
		if err != nil {
			logger.Error().Err(err).Int("pid", pid).Msg("Failed to register gateway connection, terminating process")
			rollback()
			return nil, apierror.WrapError(apierror.ErrRegistration, "Failed to register the node with the remote console gateway", err)
		}
		registered = cid
		connID = entity.Ptr(cid)
		connURL = entity.Ptr(s.gateway.ConnectionURL(cid))
	}

	n.Status = entity.NodeStatusRunning
	n.PID = entity.Ptr(pid)
	n.VNCPort = entity.Ptr(port)
	n.GuacamoleConnectionID = connID
	n.GuacamoleURL = connURL
	n.UpdatedAt = s.now().UTC()

	if err := s.save(ctx, nodes); err != nil {
		rollback()
		return nil, err
	}

	logger.Info().Int("pid", pid).Int("vnc_port", port).Msg("Node started")
	s.publish(ctx, events.TypeStarted, *n)
	return n, nil
}

// StopNode 停止节点；已经停止时直接返回当前记录
func (s *NodeService) StopNode(ctx context.Context, id string) (node *entity.Node, err error) {
	defer s.observe(OpStop, time.Now(), &err)
	logger := zerolog.Ctx(ctx).With().Str("node_id", id).Logger()

	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := findNode(nodes, id)
	if err != nil {
		return nil, err
	}
	n := &nodes[idx]

	if !n.IsRunning() {
		logger.Debug().Msg("Node already stopped")
		return n, nil
	}

	// 先落盘停止状态再释放资源，保存失败时进程和连接都保持原样
	prev := n.Clone()
	n.ClearRuntime()
	n.UpdatedAt = s.now().UTC()

	if err := s.save(ctx, nodes); err != nil {
		return nil, err
	}
	logCleanups(&logger, OpStop, s.teardown(ctx, &prev))

	logger.Info().Msg("Node stopped")
	s.publish(ctx, events.TypeStopped, *n)
	return n, nil
}

// WipeNode 停止节点并把 overlay 重置为基础镜像的干净副本
func (s *NodeService) WipeNode(ctx context.Context, id string) (node *entity.Node, err error) {
	defer s.observe(OpWipe, time.Now(), &err)
	logger := zerolog.Ctx(ctx).With().Str("node_id", id).Logger()

	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := findNode(nodes, id)
	if err != nil {
		return nil, err
	}
	n := &nodes[idx]

	prev := n.Clone()
	wasRunning := prev.PID != nil
	n.ClearRuntime()
	n.UpdatedAt = s.now().UTC()

	// 先落盘停止状态，再释放资源和动 overlay
	if err := s.save(ctx, nodes); err != nil {
		return nil, err
	}
	logCleanups(&logger, OpWipe, s.teardown(ctx, &prev))

	if wasRunning && s.cfg.SettleDelay > 0 {
		time.Sleep(s.cfg.SettleDelay)
	}

	if err := s.overlays.Recreate(ctx, n.BaseImage, n.OverlayPath); err != nil {
		logger.Error().Err(err).Str("overlay_path", n.OverlayPath).Msg("Failed to recreate overlay")
		return nil, err
	}

	n.UpdatedAt = s.now().UTC()
	if err := s.save(ctx, nodes); err != nil {
		return nil, err
	}

	logger.Info().Str("overlay_path", n.OverlayPath).Msg("Node wiped")
	s.publish(ctx, events.TypeWiped, *n)
	return n, nil
}

// DeleteNode 停止节点，删除 overlay 和记录
func (s *NodeService) DeleteNode(ctx context.Context, id string) (err error) {
	defer s.observe(OpDelete, time.Now(), &err)
	logger := zerolog.Ctx(ctx).With().Str("node_id", id).Logger()

	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.load(ctx)
	if err != nil {
		return err
	}
	idx, err := findNode(nodes, id)
	if err != nil {
		return err
	}
	removed := nodes[idx].Clone()

	// 记录删除成功后才释放资源，保存失败时节点原样保留
	nodes = append(nodes[:idx], nodes[idx+1:]...)
	if err := s.save(ctx, nodes); err != nil {
		return err
	}

	results := s.teardown(ctx, &removed)
	results = append(results, CleanupResult{
		Step:   "delete overlay",
		Target: removed.OverlayPath,
		Err:    s.overlays.Delete(ctx, removed.OverlayPath),
	})
	logCleanups(&logger, OpDelete, results)

	logger.Info().Msg("Node deleted")
	removed.ClearRuntime()
	s.publish(ctx, events.TypeDeleted, removed)
	return nil
}

// ConsoleURL 返回带有新 token 的控制台地址
func (s *NodeService) ConsoleURL(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	idx, err := findNode(nodes, id)
	if err != nil {
		return "", err
	}
	n := nodes[idx]

	if s.gateway == nil || n.GuacamoleConnectionID == nil {
		return "", apierror.WrapError(apierror.ErrConsoleNotAvailable,
			fmt.Sprintf("node %s has no registered console connection, start it first", id), nil)
	}

	token, err := s.gateway.Authenticate(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("node_id", id).Msg("Failed to authenticate with gateway")
		return "", apierror.WrapError(apierror.ErrRegistration, "Failed to authenticate with the remote console gateway", err)
	}
	return s.gateway.ClientURL(*n.GuacamoleConnectionID, token), nil
}

// ListImages 列出基础镜像目录下的 qcow2 文件
func (s *NodeService) ListImages(ctx context.Context) ([]entity.BaseImage, error) {
	entries, err := os.ReadDir(s.cfg.BaseImageDir)
	if errors.Is(err, os.ErrNotExist) {
		return []entity.BaseImage{}, nil
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("dir", s.cfg.BaseImageDir).Msg("Failed to read base image directory")
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to list base images", err)
	}

	images := make([]entity.BaseImage, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".qcow2") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		images = append(images, entity.BaseImage{
			Name:      e.Name(),
			Path:      filepath.Join(s.cfg.BaseImageDir, e.Name()),
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// Reconcile 把进程已经退出的运行中节点标记为停止
// 只在启动时调用一次，运行期间不主动对账
func (s *NodeService) Reconcile(ctx context.Context) (changed int, err error) {
	defer s.observe(OpReconcile, time.Now(), &err)
	logger := zerolog.Ctx(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	var (
		gone    []entity.Node
		stopped []int
	)
	for i := range nodes {
		n := &nodes[i]
		if !n.IsRunning() {
			continue
		}
		if n.PID != nil && s.supervisor.Alive(*n.PID) {
			continue
		}

		logger.Warn().Str("node_id", n.ID).Msg("Hypervisor process is gone, marking node stopped")
		gone = append(gone, n.Clone())
		stopped = append(stopped, i)
		n.ClearRuntime()
		n.UpdatedAt = s.now().UTC()
	}

	if len(gone) == 0 {
		s.updateCounts(nodes)
		return 0, nil
	}
	if err := s.save(ctx, nodes); err != nil {
		return 0, err
	}
	for i := range gone {
		nlog := logger.With().Str("node_id", gone[i].ID).Logger()
		logCleanups(&nlog, OpReconcile, s.teardown(ctx, &gone[i]))
		s.publish(ctx, events.TypeStopped, nodes[stopped[i]])
	}
	return len(gone), nil
}

// resolveBaseImage 把请求中的镜像名解析为基础镜像目录下的绝对路径
func (s *NodeService) resolveBaseImage(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apierror.WrapError(apierror.ErrInvalidParameter, "baseImage is required", nil)
	}
	// 只接受目录下的文件名，拒绝路径穿越
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", apierror.WrapError(apierror.ErrBaseImageNotFound,
			fmt.Sprintf("base image %q is not a file name", name), nil)
	}

	path := filepath.Join(s.cfg.BaseImageDir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", apierror.WrapError(apierror.ErrBaseImageNotFound,
			fmt.Sprintf("base image %s does not exist", name), err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

func (s *NodeService) load(ctx context.Context) ([]entity.Node, error) {
	nodes, err := s.store.Load(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to load node state")
		return nil, apierror.WrapError(apierror.ErrStoreIO, "Failed to load node state", err)
	}
	return nodes, nil
}

func (s *NodeService) save(ctx context.Context, nodes []entity.Node) error {
	if err := s.store.Save(ctx, nodes); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to save node state")
		return apierror.WrapError(apierror.ErrStoreIO, "Failed to save node state", err)
	}
	s.updateCounts(nodes)
	return nil
}

func (s *NodeService) updateCounts(nodes []entity.Node) {
	counts := map[string]int{
		string(entity.NodeStatusRunning): 0,
		string(entity.NodeStatusStopped): 0,
	}
	for i := range nodes {
		counts[string(nodes[i].Status)]++
	}
	s.metrics.SetNodeCounts(counts)
}

func (s *NodeService) observe(op string, start time.Time, err *error) {
	s.metrics.ObserveOperation(op, *err, time.Since(start))
}

func (s *NodeService) publish(ctx context.Context, eventType string, node entity.Node) {
	if err := s.events.Publish(ctx, eventType, node); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("node_id", node.ID).Str("event", eventType).Msg("Failed to publish node event")
	}
}

// findNode 返回节点下标，不存在时返回 ErrNodeNotFound
func findNode(nodes []entity.Node, id string) (int, error) {
	for i := range nodes {
		if nodes[i].ID == id {
			return i, nil
		}
	}
	return -1, apierror.WrapError(apierror.ErrNodeNotFound, fmt.Sprintf("node %s does not exist", id), nil)
}
