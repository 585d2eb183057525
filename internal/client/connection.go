package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Connection is the WebSocket uplink. Every message sent gets exactly one
// ack or error reply, so requests are serialized and each waits for its
// reply.
type Connection struct {
	url       string
	authToken string
	logger    zerolog.Logger
	info      *models.SensorInfo

	stateMutex sync.RWMutex
	state      ConnectionState
	conn       *websocket.Conn

	writeMutex   sync.Mutex
	requestMutex sync.Mutex
	replies      chan models.Message

	reconnectInterval        time.Duration
	maxReconnectInterval     time.Duration
	currentReconnectInterval time.Duration
	pingInterval             time.Duration
	replyTimeout             time.Duration

	bufferGauge func() int
}

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	AuthToken            string
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	ReplyTimeout         time.Duration
}

// NewConnection creates a new connection manager
func NewConnection(config ConnectionConfig, info *models.SensorInfo, logger zerolog.Logger) *Connection {
	if config.ReplyTimeout <= 0 {
		config.ReplyTimeout = 10 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	return &Connection{
		url:                      config.URL,
		authToken:                config.AuthToken,
		logger:                   logger,
		info:                     info,
		state:                    StateDisconnected,
		replies:                  make(chan models.Message, 1),
		reconnectInterval:        config.ReconnectInterval,
		maxReconnectInterval:     config.MaxReconnectInterval,
		currentReconnectInterval: config.ReconnectInterval,
		pingInterval:             config.PingInterval,
		replyTimeout:             config.ReplyTimeout,
		bufferGauge:              func() int { return 0 },
	}
}

// SetBufferGauge reports the producer backlog in heartbeats
func (c *Connection) SetBufferGauge(gauge func() int) {
	c.bufferGauge = gauge
}

func (c *Connection) setState(state ConnectionState) {
	c.stateMutex.Lock()
	c.state = state
	c.stateMutex.Unlock()
	c.logger.Info().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect dials the server and registers the sensor with a heartbeat
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.url).Msg("Connecting to server")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial failed: %w", err)
	}
	resp.Body.Close()

	c.stateMutex.Lock()
	c.conn = conn
	c.stateMutex.Unlock()

	if err := c.register(conn); err != nil {
		c.disconnect()
		return err
	}

	c.setState(StateConnected)
	c.currentReconnectInterval = c.reconnectInterval
	return nil
}

// register sends the first heartbeat and waits for its reply before the
// read loop starts, so no request can pick up the registration ack.
func (c *Connection) register(conn *websocket.Conn) error {
	if err := c.writeMessage(c.heartbeat()); err != nil {
		return fmt.Errorf("failed to send registration: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.replyTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var reply models.Message
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("no registration reply: %w", err)
	}
	if reply.Type == models.MessageTypeError {
		var errMsg models.ErrorMessage
		reply.UnmarshalPayload(&errMsg)
		return fmt.Errorf("registration refused: %s", errMsg.Message)
	}
	return nil
}

// Run keeps the connection up with exponential backoff until ctx is done
func (c *Connection) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Connection failed")
			c.waitBeforeReconnect(ctx)
			continue
		}

		c.runMessageLoops(ctx)

		if ctx.Err() == nil {
			c.logger.Info().Msg("Connection lost, will reconnect")
			c.waitBeforeReconnect(ctx)
		}
	}
}

func (c *Connection) waitBeforeReconnect(ctx context.Context) {
	c.logger.Info().Dur("delay", c.currentReconnectInterval).Msg("Waiting before reconnect")
	select {
	case <-time.After(c.currentReconnectInterval):
	case <-ctx.Done():
		return
	}
	c.currentReconnectInterval = min(c.currentReconnectInterval*2, c.maxReconnectInterval)
}

// runMessageLoops returns once either loop fails or ctx is cancelled
func (c *Connection) runMessageLoops(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.readLoop(conn)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.heartbeatLoop(ctx)
	}()

	<-ctx.Done()
	// closing the socket unblocks the read loop
	c.disconnect()
	wg.Wait()
}

func (c *Connection) disconnect() {
	c.stateMutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.stateMutex.Unlock()
	c.logger.Info().Msg("Connection disconnected")
}

// SendBatch sends readings as one batch message and waits for the ack
func (c *Connection) SendBatch(ctx context.Context, readings []*models.Reading) (SendResult, error) {
	if len(readings) == 0 {
		return SendResult{}, nil
	}

	msg, err := models.NewMessage(models.MessageTypeBatch, models.BatchMessage{
		Readings: rawBatch(readings),
		Count:    len(readings),
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to create batch message: %w", err)
	}

	reply, err := c.request(ctx, msg)
	if err != nil {
		return SendResult{}, err
	}

	switch reply.Type {
	case models.MessageTypeAck:
		var ack models.AckMessage
		if err := reply.UnmarshalPayload(&ack); err != nil {
			return SendResult{}, fmt.Errorf("invalid ack: %w", err)
		}
		c.logger.Debug().Int("accepted", ack.Accepted).Int("rejected", ack.Rejected).Msg("Batch acknowledged")
		return SendResult{Accepted: ack.Accepted, Rejected: ack.Rejected, Errors: ack.Errors}, nil
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := reply.UnmarshalPayload(&errMsg); err != nil {
			return SendResult{}, fmt.Errorf("invalid error reply: %w", err)
		}
		if errMsg.Code == models.ErrCodeValidation {
			return SendResult{Rejected: len(readings), Errors: errMsg.Errors}, nil
		}
		return SendResult{}, fmt.Errorf("server error %s: %s", errMsg.Code, errMsg.Message)
	}
	return SendResult{}, fmt.Errorf("unexpected reply type %q", reply.Type)
}

// request writes msg and waits for the matching reply
func (c *Connection) request(ctx context.Context, msg *models.Message) (models.Message, error) {
	if !c.IsConnected() {
		return models.Message{}, ErrNotConnected
	}

	c.requestMutex.Lock()
	defer c.requestMutex.Unlock()

	// drop a late reply left by a timed out request
	select {
	case <-c.replies:
	default:
	}

	if err := c.writeMessage(msg); err != nil {
		return models.Message{}, err
	}

	timer := time.NewTimer(c.replyTimeout)
	defer timer.Stop()

	select {
	case reply := <-c.replies:
		return reply, nil
	case <-timer.C:
		return models.Message{}, fmt.Errorf("no reply within %v", c.replyTimeout)
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

func (c *Connection) writeMessage(msg *models.Message) error {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (c *Connection) readLoop(conn *websocket.Conn) {
	c.logger.Debug().Msg("Starting read loop")
	defer c.logger.Debug().Msg("Read loop stopped")

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.logger.Debug().Err(err).Msg("Read error")
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Connection) handleMessage(msg models.Message) {
	switch msg.Type {
	case models.MessageTypeAck, models.MessageTypeError:
		if msg.Type == models.MessageTypeError {
			var errMsg models.ErrorMessage
			if err := msg.UnmarshalPayload(&errMsg); err == nil {
				c.logger.Warn().Str("code", errMsg.Code).Strs("errors", errMsg.Errors).Msg(errMsg.Message)
			}
		}
		select {
		case c.replies <- msg:
		default:
			c.logger.Debug().Msg("Dropped unsolicited reply")
		}
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

func (c *Connection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.request(ctx, c.heartbeat()); err != nil {
				c.logger.Warn().Err(err).Msg("Heartbeat failed, connection appears dead")
				return
			}
		}
	}
}

func (c *Connection) heartbeat() *models.Message {
	msg, _ := models.NewMessage(models.MessageTypeHeartbeat, models.HeartbeatMessage{
		SensorID:   c.info.ID,
		Uptime:     int64(c.info.Uptime().Seconds()),
		BufferSize: c.bufferGauge(),
	})
	return msg
}

// Close sends a close frame and drops the connection
func (c *Connection) Close() error {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()

	if conn != nil {
		c.writeMutex.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMutex.Unlock()
	}

	c.disconnect()
	return nil
}
