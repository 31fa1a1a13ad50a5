package julius

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/saker-ai/julius-bridge/internal/transport/julius/codec"
)

const (
	DefaultHost        = "localhost"
	DefaultPort        = 10500
	DefaultSendTimeout = 5 * time.Second
	DefaultDialTimeout = 5 * time.Second
)

// Document and Node are the parsed form of one protocol block.
type (
	Document = codec.Document
	Node     = codec.Node
)

// ContextDialer opens the underlying stream. *net.Dialer satisfies it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds connection settings. Start from DefaultConfig; zero durations
// fall back to their defaults.
type Config struct {
	Host     string
	Port     int
	Encoding string
	// Modelize converts RECOGOUT documents into Sentences in dispatcher mode.
	Modelize     bool
	PollInterval time.Duration
	SendTimeout  time.Duration
	DialTimeout  time.Duration
	Dialer       ContextDialer
}

// DefaultConfig returns the settings of a stock module-mode Julius.
func DefaultConfig() Config {
	return Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		Encoding:     codec.DefaultEncoding,
		Modelize:     true,
		PollInterval: codec.DefaultPollInterval,
		SendTimeout:  DefaultSendTimeout,
		DialTimeout:  DefaultDialTimeout,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func normalizeConfig(cfg Config) Config {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Encoding == "" {
		cfg.Encoding = codec.DefaultEncoding
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = codec.DefaultPollInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	return cfg
}

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
)

// DispatcherState is the lifecycle state of the background reader.
type DispatcherState string

const (
	DispatcherIdle    DispatcherState = "idle"
	DispatcherRunning DispatcherState = "running"
	DispatcherStopped DispatcherState = "stopped"
)

// ResultKind discriminates Result.
type ResultKind string

const (
	ResultDocument ResultKind = "document"
	ResultSentence ResultKind = "sentence"
)

// Result is one entry of the ResultStream. Exactly one of Document and
// Sentence is set, according to Kind.
type Result struct {
	Kind       ResultKind `json:"kind"`
	Document   *Document  `json:"document,omitempty"`
	Sentence   *Sentence  `json:"sentence,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Tag returns the root tag the result was produced from.
func (r Result) Tag() string {
	if r.Kind == ResultSentence {
		return TagRecogOut
	}
	return r.Document.Tag()
}

// Hooks observe client activity. Every field is optional. Hooks run on the
// goroutine that produced the event and must not block.
type Hooks struct {
	OnLine        func(line string)
	OnBlock       func(block string)
	OnDocument    func(doc *Document)
	OnResult      func(result Result)
	OnMalformed   func(err error)
	OnSend        func(command string, err error)
	OnStateChange func(state State)
	// OnDispatcherExit receives the reason the dispatcher ended.
	OnDispatcherExit func(err error)
}
