package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/pii-redactor/internal/config"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeJobProgress carries a progress snapshot of a running job
	EventTypeJobProgress EventType = "job_progress"
	// EventTypeJobCompleted is sent once a job wrote its output
	EventTypeJobCompleted EventType = "job_completed"
	// EventTypeJobFailed is sent when a job stops with an error
	EventTypeJobFailed EventType = "job_failed"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping message
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	JobID     string      `json:"job_id,omitempty"`
	Data      interface{} `json:"data"`
}

// JobCompletedEvent is the payload of job_completed
type JobCompletedEvent struct {
	Filename      string  `json:"filename"`
	OutputName    string  `json:"output_name"`
	Mode          string  `json:"mode"`
	ProcessedRows int64   `json:"processed_rows"`
	ChangedValues int64   `json:"changed_values"`
	PIIRemoved    int64   `json:"pii_removed"`
	ElapsedSecs   float64 `json:"elapsed_seconds"`
	DownloadURL   string  `json:"download_url"`
}

// JobFailedEvent is the payload of job_failed
type JobFailedEvent struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string       `json:"type"`
	Data Subscription `json:"data"`
}

// Subscription narrows the events a client receives. Empty fields match
// everything.
type Subscription struct {
	Events []EventType `json:"events"`
	JobID  string      `json:"job_id,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *Subscription
	ConnectedAt  time.Time
	IP           string
	UserAgent    string
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections   int64     `json:"total_connections"`
	ActiveConnections  int64     `json:"active_connections"`
	TotalMessages      int64     `json:"total_messages"`
	TotalBroadcasts    int64     `json:"total_broadcasts"`
	DroppedEvents      int64     `json:"dropped_events"`
	LastConnectionTime time.Time `json:"last_connection_time"`
	LastBroadcastTime  time.Time `json:"last_broadcast_time"`
}

// Config contains configuration for the WebSocket hub
type Config struct {
	MaxConnections  int
	ReadBufferSize  int
	WriteBufferSize int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageSize  int64
	AllowedOrigins  []string

	AuthEnabled bool
	Username    string
	Password    string

	BroadcastProgress    bool
	BroadcastCompletion  bool
	BroadcastConnections bool
}

// ConfigFrom maps the websocket section of the service config.
func ConfigFrom(c config.WebSocketConfig) Config {
	return Config{
		MaxConnections:       c.MaxConnections,
		ReadBufferSize:       c.ReadBufferSize,
		WriteBufferSize:      c.WriteBufferSize,
		PingInterval:         c.PingInterval,
		PongTimeout:          c.PongTimeout,
		WriteTimeout:         c.WriteTimeout,
		MaxMessageSize:       c.MaxMessageSize,
		AllowedOrigins:       c.AllowedOrigins,
		AuthEnabled:          c.Auth.Enabled,
		Username:             c.Auth.Username,
		Password:             c.Auth.Password,
		BroadcastProgress:    c.Events.BroadcastProgress,
		BroadcastCompletion:  c.Events.BroadcastCompletion,
		BroadcastConnections: c.Events.BroadcastConnections,
	}
}
