package ws

import (
	"context"

	"github.com/saker-ai/julius-bridge/internal/config"
	"github.com/saker-ai/julius-bridge/internal/protocol"
	"github.com/saker-ai/julius-bridge/internal/storage"
)

// Backend is the bridge as seen by websocket sessions.
type Backend interface {
	SendCommand(ctx context.Context, command string) error
	Status() protocol.Status
}

// HistoryReader serves recognition histories.
type HistoryReader interface {
	List() []storage.HistoryInfo
	Get(uid string) ([]storage.Record, error)
}

// PresetLookup resolves named commands.
type PresetLookup interface {
	Lookup(name string) (config.Preset, error)
}
