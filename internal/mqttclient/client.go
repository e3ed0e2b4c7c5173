// Package mqttclient publishes practice events to an MQTT broker so other
// services (dashboards, coaching bots) can follow activity without polling.
package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Topic suffixes under the configured prefix.
const (
	TopicAnalysisCompleted = "analysis/completed"
	TopicSessionSaved      = "sessions/saved"
)

// AnalysisCompleted is published after /api/analyze returns feedback.
type AnalysisCompleted struct {
	RequestID    string    `json:"requestId,omitempty"`
	Mode         string    `json:"mode"`
	Provider     string    `json:"provider"`
	Overall      float64   `json:"overall"`
	TranscribeMs int64     `json:"transcribeMs"`
	AnalyzeMs    int64     `json:"analyzeMs"`
	At           time.Time `json:"at"`
}

// SessionSaved is published after a session record is stored.
type SessionSaved struct {
	SessionID     string    `json:"sessionId"`
	Mode          string    `json:"mode"`
	Overall       float64   `json:"overall"`
	Authenticated bool      `json:"authenticated"`
	At            time.Time `json:"at"`
}

type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: strings.Trim(opts.TopicPrefix, "/"),
		log:    opts.Log.With().Str("component", "mqtt").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.prefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// PublishAnalysis publishes an analysis event. Never blocks the caller.
func (c *Client) PublishAnalysis(ev AnalysisCompleted) {
	c.publish(TopicAnalysisCompleted, ev)
}

// PublishSession publishes a session-saved event. Never blocks the caller.
func (c *Client) PublishSession(ev SessionSaved) {
	c.publish(TopicSessionSaved, ev)
}

func (c *Client) publish(suffix string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Str("topic", suffix).Msg("mqtt payload encode failed")
		return
	}
	topic := c.topic(suffix)
	token := c.conn.Publish(topic, 0, false, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			c.log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			c.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

func (c *Client) topic(suffix string) string {
	if c.prefix == "" {
		return suffix
	}
	return c.prefix + "/" + suffix
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}
