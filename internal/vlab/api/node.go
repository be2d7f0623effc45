package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vlab/internal/vlab/entity"
	"github.com/jimyag/vlab/pkg/ginx"
	"github.com/rs/zerolog"
)

// NodeServiceInterface 定义节点服务的接口
type NodeServiceInterface interface {
	ListNodes(ctx context.Context) ([]entity.Node, error)
	GetNode(ctx context.Context, id string) (*entity.Node, error)
	CreateNode(ctx context.Context, baseImage string) (*entity.Node, error)
	StartNode(ctx context.Context, id string) (*entity.Node, error)
	StopNode(ctx context.Context, id string) (*entity.Node, error)
	WipeNode(ctx context.Context, id string) (*entity.Node, error)
	DeleteNode(ctx context.Context, id string) error
	ConsoleURL(ctx context.Context, id string) (string, error)
	ListImages(ctx context.Context) ([]entity.BaseImage, error)
}

type Node struct {
	nodeService NodeServiceInterface
}

func NewNode(nodeService NodeServiceInterface) *Node {
	return &Node{
		nodeService: nodeService,
	}
}

func (n *Node) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/nodes", ginx.Adapt3(n.ListNodes))
	router.POST("/nodes", ginx.Adapt5(n.CreateNode))
	router.GET("/nodes/:id", ginx.Adapt5(n.GetNode))
	router.POST("/nodes/:id/run", ginx.Adapt5(n.RunNode))
	router.POST("/nodes/:id/stop", ginx.Adapt5(n.StopNode))
	router.POST("/nodes/:id/wipe", ginx.Adapt5(n.WipeNode))
	router.POST("/nodes/:id/delete", ginx.Adapt4(n.DeleteNode))
	router.GET("/guac/connect/:id", ginx.Adapt5(n.GuacConnect))
	router.GET("/images", ginx.Adapt3(n.ListImages))
}

func (n *Node) ListNodes(ctx *gin.Context) ([]entity.Node, error) {
	return n.nodeService.ListNodes(ctx)
}

func (n *Node) CreateNode(ctx *gin.Context, req *entity.CreateNodeRequest) (*entity.CreateNodeResponse, error) {
	logger := zerolog.Ctx(ctx.Request.Context())
	logger.Info().Str("base_image", req.BaseImage).Msg("CreateNode called")

	node, err := n.nodeService.CreateNode(ctx, req.BaseImage)
	if err != nil {
		logger.Error().Err(err).Str("base_image", req.BaseImage).Msg("Failed to create node")
		return nil, err
	}
	return &entity.CreateNodeResponse{Node: node}, nil
}

func (n *Node) GetNode(ctx *gin.Context, req *entity.NodeIDRequest) (*entity.Node, error) {
	return n.nodeService.GetNode(ctx, req.ID)
}

func (n *Node) RunNode(ctx *gin.Context, req *entity.NodeIDRequest) (*entity.Node, error) {
	logger := zerolog.Ctx(ctx.Request.Context())
	logger.Info().Str("node_id", req.ID).Msg("RunNode called")

	node, err := n.nodeService.StartNode(ctx, req.ID)
	if err != nil {
		logger.Error().Err(err).Str("node_id", req.ID).Msg("Failed to start node")
		return nil, err
	}
	return node, nil
}

func (n *Node) StopNode(ctx *gin.Context, req *entity.NodeIDRequest) (*entity.Node, error) {
	logger := zerolog.Ctx(ctx.Request.Context())
	logger.Info().Str("node_id", req.ID).Msg("StopNode called")

	node, err := n.nodeService.StopNode(ctx, req.ID)
	if err != nil {
		logger.Error().Err(err).Str("node_id", req.ID).Msg("Failed to stop node")
		return nil, err
	}
	return node, nil
}

func (n *Node) WipeNode(ctx *gin.Context, req *entity.NodeIDRequest) (*entity.Node, error) {
	logger := zerolog.Ctx(ctx.Request.Context())
	logger.Info().Str("node_id", req.ID).Msg("WipeNode called")

	node, err := n.nodeService.WipeNode(ctx, req.ID)
	if err != nil {
		logger.Error().Err(err).Str("node_id", req.ID).Msg("Failed to wipe node")
		return nil, err
	}
	return node, nil
}

func (n *Node) DeleteNode(ctx *gin.Context, req *entity.NodeIDRequest) error {
	logger := zerolog.Ctx(ctx.Request.Context())
	logger.Info().Str("node_id", req.ID).Msg("DeleteNode called")

	if err := n.nodeService.DeleteNode(ctx, req.ID); err != nil {
		logger.Error().Err(err).Str("node_id", req.ID).Msg("Failed to delete node")
		return err
	}
	return nil
}

// GuacConnect 返回带有效 token 的远程控制台地址
func (n *Node) GuacConnect(ctx *gin.Context, req *entity.NodeIDRequest) (*entity.ConsoleURLResponse, error) {
	url, err := n.nodeService.ConsoleURL(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &entity.ConsoleURLResponse{URL: url}, nil
}

func (n *Node) ListImages(ctx *gin.Context) ([]entity.BaseImage, error) {
	return n.nodeService.ListImages(ctx)
}
