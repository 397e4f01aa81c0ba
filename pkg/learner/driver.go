package learner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/resourceid"
	"github.com/arcadia-ml/mimic/pkg/telemetry"
)

// Driver is the top-level worker loop: it listens for assignment
// broadcasts, acquires one assignment exclusively, runs a processor on it
// in the foreground, and releases the assignment when the processor
// returns.
type Driver struct {
	storage *Storage
	dirs    Dirs
	cache   *BrainCache
	factory TrainerFactory
	metrics *telemetry.Metrics
	monitor *datastore.Monitor

	notify chan resourceid.ID
	accept map[string]bool

	mu     sync.Mutex
	active *Processor
}

// SetAcceptedAssignments restricts the driver to assignments whose id is in
// ids (the canonical hyperparameter serializations this worker is
// configured for). An empty list accepts everything.
func (d *Driver) SetAcceptedAssignments(ids []string) {
	if len(ids) == 0 {
		d.accept = nil
		return
	}
	d.accept = make(map[string]bool, len(ids))
	for _, id := range ids {
		d.accept[id] = true
	}
}

// NewDriver creates a driver and its assignment monitor over the shared
// store.
func NewDriver(storage *Storage, dirs Dirs, factory TrainerFactory,
	metrics *telemetry.Metrics, opts ...datastore.MonitorOption) (*Driver, error) {
	d := &Driver{
		storage: storage,
		dirs:    dirs,
		cache:   NewBrainCache(factory, DefaultBrainCacheSize),
		factory: factory,
		metrics: metrics,
		notify:  make(chan resourceid.ID, 16),
	}
	monitor, err := datastore.NewMonitor(storage.Store().FileStore(),
		d.onAssignment, d.onChunks, opts...)
	if err != nil {
		return nil, err
	}
	d.monitor = monitor
	return d, nil
}

// Monitor exposes the driver's assignment monitor.
func (d *Driver) Monitor() *datastore.Monitor { return d.monitor }

// onAssignment is the broadcast callback: queue the assignment for an
// acquisition attempt, coalescing when the queue is full.
func (d *Driver) onAssignment(id resourceid.ID) {
	select {
	case d.notify <- id:
	default:
	}
}

// onChunks is the exclusive callback: route new chunk ids to the active
// processor.
func (d *Driver) onChunks(_ resourceid.ID, chunks []resourceid.ID) {
	d.mu.Lock()
	proc := d.active
	d.mu.Unlock()
	if proc != nil {
		proc.EnqueueChunks(chunks)
	}
}

func (d *Driver) setActive(p *Processor) {
	d.mu.Lock()
	d.active = p
	d.mu.Unlock()
}

// Run processes assignments until the context is cancelled. iterations
// bounds the number of acquisition attempts; negative means unbounded.
func (d *Driver) Run(ctx context.Context, iterations int) error {
	slog.Info("Learner started, waiting for assignments")
	for iterations != 0 {
		if iterations > 0 {
			iterations--
		}
		select {
		case <-ctx.Done():
			return nil
		case id := <-d.notify:
			d.processOne(ctx, id)
		}
	}
	return nil
}

func (d *Driver) processOne(ctx context.Context, id resourceid.ID) {
	log := slog.With("assignment", Sanitize(id.Assignment()), "session_id", id.Session())
	if d.accept != nil && !d.accept[id.Assignment()] {
		log.Debug("Assignment not in this worker's hyperparameter sets")
		return
	}
	acquired, err := d.monitor.Acquire(id)
	if err != nil {
		log.Error("Failed to acquire assignment", "error", err)
		return
	}
	if !acquired {
		log.Debug("Assignment held by another worker")
		return
	}
	defer func() {
		if err := d.monitor.Release(); err != nil {
			log.Error("Failed to release assignment", "error", err)
		}
	}()

	assignment, err := d.storage.ReadAssignment(id)
	if err != nil {
		log.Error("Failed to read assignment record", "error", err)
		return
	}
	proc, err := NewProcessor(d.storage, d.dirs, d.cache, d.factory, assignment, d.metrics)
	if err != nil {
		log.Error("Failed to create processor", "error", err)
		return
	}
	d.setActive(proc)
	defer d.setActive(nil)

	log.Info("Assignment acquired, training")
	reason, err := proc.Run(ctx)
	if err != nil {
		log.Error("Assignment processing failed", "error", err)
		return
	}
	log.Info("Assignment processing complete", "reason", reason)
}

// Stop requests the active processor to stop without waiting.
func (d *Driver) Stop() {
	d.mu.Lock()
	proc := d.active
	d.mu.Unlock()
	if proc != nil {
		proc.Stop()
	}
}

// Close stops monitoring and releases any held assignment.
func (d *Driver) Close() {
	d.monitor.Close()
}
