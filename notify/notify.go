// Package notify delivers committed ledger events to external auditors.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/anisnazira/halal-supply-blockchain/ledger"
	"github.com/anisnazira/halal-supply-blockchain/metrics"
	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Envelope is one committed event with its position in the chain
type Envelope struct {
	Height     int64        `json:"height"`
	TxIndex    int          `json:"tx_index"`
	TxHash     string       `json:"tx_hash"`
	EventIndex int          `json:"event_index"`
	Caller     string       `json:"caller"`
	Event      ledger.Event `json:"event"`
}

// Sink receives the committed events of one block, in order
type Sink interface {
	Name() string
	Deliver(ctx context.Context, envs []Envelope) error
}

// Publisher accepts committed events
type Publisher interface {
	Publish(envs []Envelope)
}

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	// QueueSize bounds the number of blocks waiting for delivery
	QueueSize int

	// DeliveryTimeout is the per-sink deadline for one block
	DeliveryTimeout time.Duration
}

// Dispatcher hands committed blocks to every sink from a single worker so
// that sinks observe blocks in commit order
type Dispatcher struct {
	sinks   []Sink
	queue   chan []Envelope
	cfg     DispatcherConfig
	logger  cmtlog.Logger
	metrics *metrics.Metrics

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher starts a dispatcher for sinks. Zero config fields get defaults.
func NewDispatcher(cfg DispatcherConfig, logger cmtlog.Logger, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan []Envelope, cfg.QueueSize),
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues a block of events without blocking. When the queue is
// full the block is dropped and counted against every sink.
func (d *Dispatcher) Publish(envs []Envelope) {
	if len(envs) == 0 || len(d.sinks) == 0 {
		return
	}
	select {
	case d.queue <- envs:
	default:
		d.logger.Error("Event queue full, dropping block", "height", envs[0].Height, "events", len(envs))
		for _, sink := range d.sinks {
			d.metrics.ObserveDelivery(sink.Name(), "dropped", len(envs))
		}
	}
}

// Close stops accepting events and waits until queued blocks are delivered
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for envs := range d.queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
			err := sink.Deliver(ctx, envs)
			cancel()
			if err != nil {
				d.logger.Error("Event delivery failed", "sink", sink.Name(), "height", envs[0].Height, "err", err)
				d.metrics.ObserveDelivery(sink.Name(), "error", len(envs))
				continue
			}
			d.metrics.ObserveDelivery(sink.Name(), "ok", len(envs))
		}
	}
}
