package protocol

import (
	"time"

	"github.com/saker-ai/julius-bridge/pkg/julius"
)

// Event types sent to websocket sessions and published on the bus.
const (
	EventSentence      = "sentence"
	EventDocument      = "document"
	EventStatus        = "status"
	EventCommandResult = "command-result"
	EventHistoryList   = "history-list"
	EventHistory       = "history"
	EventHeartbeatAck  = "heartbeat-ack"
	EventError         = "error"
)

// Incoming websocket message types.
const (
	TypeSendCommand      = "send-command"
	TypeFetchStatus      = "fetch-status"
	TypeFetchHistoryList = "fetch-history-list"
	TypeFetchHistory     = "fetch-history"
	TypeHeartbeat        = "heartbeat"
)

// ClientCommand is a message from a websocket client.
type ClientCommand struct {
	Type       string `json:"type"`
	Command    string `json:"command,omitempty"`
	Preset     string `json:"preset,omitempty"`
	HistoryUID string `json:"history_uid,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Status describes the bridge and its Julius session.
type Status struct {
	State        string    `json:"state"`
	Mode         string    `json:"mode"`
	Connected    bool      `json:"connected"`
	JuliusAddr   string    `json:"julius_addr"`
	Dispatcher   string    `json:"dispatcher"`
	Modelize     bool      `json:"modelize"`
	Since        time.Time `json:"since"`
	Sessions     int       `json:"sessions"`
	Recognitions int       `json:"recognitions"`
	HistoryUID   string    `json:"history_uid,omitempty"`
}

// Event is the JSON envelope for everything the bridge emits.
type Event struct {
	Type       string           `json:"type"`
	Tag        string           `json:"tag,omitempty"`
	Text       string           `json:"text,omitempty"`
	Sentence   *julius.Sentence `json:"sentence,omitempty"`
	Document   *julius.Node     `json:"document,omitempty"`
	Status     *Status          `json:"status,omitempty"`
	Data       any              `json:"data,omitempty"`
	HistoryUID string           `json:"history_uid,omitempty"`
	RequestID  string           `json:"request_id,omitempty"`
	Success    *bool            `json:"success,omitempty"`
	Message    string           `json:"message,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// FromResult wraps a dispatcher result.
func FromResult(r julius.Result) Event {
	event := Event{Tag: r.Tag(), Timestamp: r.ReceivedAt}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	switch r.Kind {
	case julius.ResultSentence:
		event.Type = EventSentence
		event.Sentence = r.Sentence
		event.Text = r.Sentence.String()
	default:
		event.Type = EventDocument
		event.Document = r.Document.Root
	}
	return event
}

// ErrorEvent reports a failed request.
func ErrorEvent(requestID string, err error) Event {
	failed := false
	return Event{
		Type:      EventError,
		RequestID: requestID,
		Success:   &failed,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
}
