package julius

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/julius-bridge/internal/transport/julius/codec"
)

// dispatcher owns the read side of one connection while it runs. It is
// single-use: once stopped it never runs again.
type dispatcher struct {
	client  *Client
	reader  *codec.Reader
	cancel  context.CancelFunc
	release func()
	done    chan struct{}

	mu       sync.Mutex
	state    DispatcherState
	err      error
	fatalErr error
}

func newDispatcher(client *Client, reader *codec.Reader, cancel context.CancelFunc, release func()) *dispatcher {
	return &dispatcher{
		client:  client,
		reader:  reader,
		cancel:  cancel,
		release: release,
		done:    make(chan struct{}),
		state:   DispatcherRunning,
	}
}

func (d *dispatcher) run(ctx context.Context) {
	logger := d.client.logger
	logger.Debug("julius dispatcher started")
	defer close(d.done)
	defer d.release()
	defer d.cancel()

	for {
		doc, err := d.client.readDocument(ctx, d.reader)
		if err != nil {
			switch {
			case errors.Is(err, codec.ErrCancelled):
				d.finish(fmt.Errorf("%w: %w", ErrDispatcherStopped, err), nil)
			case errors.Is(err, codec.ErrMalformedBlock):
				// A bad block ends the loop just like a closed socket does;
				// the two cases are not told apart.
				logger.Warn("julius malformed block", zap.Error(err))
				d.finish(fmt.Errorf("%w: %w", ErrStreamEnded, err), nil)
			case errors.Is(err, codec.ErrInvalidText):
				logger.Warn("julius line not valid in configured encoding", zap.Error(err))
				d.finish(fmt.Errorf("%w: %w", ErrStreamEnded, err), nil)
			default:
				logger.Info("julius stream closed", zap.Error(err))
				d.finish(fmt.Errorf("%w: %w", ErrStreamEnded, err), nil)
			}
			return
		}

		result, err := d.client.project(doc)
		if err != nil {
			logger.Error("julius recognition conversion failed", zap.Error(err))
			d.finish(err, err)
			return
		}
		if err := d.client.results.Put(result); err != nil {
			d.finish(err, nil)
			return
		}
		logger.Debug("julius result published",
			zap.String("kind", string(result.Kind)),
			zap.String("tag", result.Tag()),
		)
		if d.client.hooks.OnResult != nil {
			d.client.hooks.OnResult(result)
		}
	}
}

func (d *dispatcher) stop() {
	d.cancel()
}

func (d *dispatcher) finish(reason, fatal error) {
	d.mu.Lock()
	d.state = DispatcherStopped
	d.err = reason
	d.fatalErr = fatal
	d.mu.Unlock()
	d.client.logger.Debug("julius dispatcher stopped", zap.Error(reason))
	if d.client.hooks.OnDispatcherExit != nil {
		d.client.hooks.OnDispatcherExit(reason)
	}
}

func (d *dispatcher) State() DispatcherState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *dispatcher) fatal() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatalErr
}
