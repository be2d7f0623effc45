// Package events 发布节点生命周期事件
//
// 事件主题为 vlab.node.<type>，消息体是 JSON 编码的 Event。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jimyag/vlab/internal/vlab/entity"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// SubjectPrefix 事件主题前缀
const SubjectPrefix = "vlab.node."

// 事件类型
const (
	TypeCreated = "created"
	TypeStarted = "started"
	TypeStopped = "stopped"
	TypeWiped   = "wiped"
	TypeDeleted = "deleted"
)

// Event 一条生命周期事件
type Event struct {
	Type string      `json:"type"`
	Node entity.Node `json:"node"`
	Time time.Time   `json:"time"`
}

// Subject 事件类型对应的主题
func Subject(eventType string) string {
	return SubjectPrefix + eventType
}

// Publisher 事件发布者
type Publisher interface {
	Publish(ctx context.Context, eventType string, node entity.Node) error
	Close()
}

// NopPublisher 丢弃所有事件
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

// Publish 什么也不做
func (NopPublisher) Publish(context.Context, string, entity.Node) error { return nil }

// Close 什么也不做
func (NopPublisher) Close() {}

// NATSPublisher 通过 NATS 发布事件
type NATSPublisher struct {
	nc *nats.Conn
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher 连接 NATS，断线后无限重连
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("vlab"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc}, nil
}

// New 根据 url 返回发布者，url 为空时返回 NopPublisher
func New(url string) (Publisher, error) {
	if url == "" {
		return NopPublisher{}, nil
	}
	return NewNATSPublisher(url)
}

// Publish 发布事件
func (p *NATSPublisher) Publish(_ context.Context, eventType string, node entity.Node) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	data, err := json.Marshal(Event{Type: eventType, Node: node, Time: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.nc.Publish(Subject(eventType), data)
}

// Close 发送完缓冲中的消息后关闭连接
func (p *NATSPublisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("Failed to drain NATS connection")
	}
	p.nc.Close()
}
