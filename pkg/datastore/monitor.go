package datastore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arcadia-ml/mimic/pkg/filestore"
	"github.com/arcadia-ml/mimic/pkg/resourceid"
)

// notificationRoot holds one directory per assignment, mirroring the
// assignment's resource path. Producers append notification files; only the
// lock holder deletes them.
const notificationRoot = "notifications"

// assignmentPathDepth is the component count of an assignment resource id.
const assignmentPathDepth = 8

// DefaultNotificationFrequency is the maximum notification-scan rate in Hz.
const DefaultNotificationFrequency = 5.0

// Metronome paces the monitor's filesystem scans.
type Metronome interface {
	// Tick returns a channel that delivers at most the configured rate.
	Tick() <-chan struct{}
	// Stop ends ticking; Tick's channel stops delivering.
	Stop()
}

type tickerMetronome struct {
	ticker *time.Ticker
	ch     chan struct{}
	done   chan struct{}
}

// NewMetronome returns a metronome ticking at most frequency times per
// second.
func NewMetronome(frequency float64) (Metronome, error) {
	if frequency <= 0 {
		return nil, fmt.Errorf("metronome frequency must be positive, got %g", frequency)
	}
	m := &tickerMetronome{
		ticker: time.NewTicker(time.Duration(float64(time.Second) / frequency)),
		ch:     make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-m.done:
				return
			case <-m.ticker.C:
				select {
				case m.ch <- struct{}{}:
				default: // A tick is already pending; coalesce.
				}
			}
		}
	}()
	return m, nil
}

func (m *tickerMetronome) Tick() <-chan struct{} { return m.ch }
func (m *tickerMetronome) Stop() {
	m.ticker.Stop()
	close(m.done)
}

// FakeMetronome delivers ticks only when ForceTick is called, for
// deterministic tests.
type FakeMetronome struct {
	ch chan struct{}
}

func NewFakeMetronome() *FakeMetronome {
	return &FakeMetronome{ch: make(chan struct{})}
}

func (m *FakeMetronome) Tick() <-chan struct{} { return m.ch }
func (m *FakeMetronome) Stop()                 {}

// ForceTick delivers one tick and blocks until the monitor accepts it.
func (m *FakeMetronome) ForceTick() { m.ch <- struct{}{} }

// AssignmentCallback is fired for any assignment with pending notifications
// while this process does not hold an assignment. Best-effort: calls may
// coalesce.
type AssignmentCallback func(assignment resourceid.ID)

// ChunkCallback is fired only for the acquired assignment, with the chunk
// ids newly observed since the last call.
type ChunkCallback func(assignment resourceid.ID, chunks []resourceid.ID)

// Monitor couples chunk ingestion to learner wakeups: producers call
// TriggerNotification after persisting a chunk; consumers acquire an
// assignment exclusively and receive each of its chunks exactly once.
type Monitor struct {
	fs           *filestore.Store
	assignmentCB AssignmentCallback
	chunkCB      ChunkCallback
	metronome    Metronome

	mu       sync.Mutex
	acquired *resourceid.ID
	lock     *filestore.Lock

	done chan struct{}
	wg   sync.WaitGroup
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMetronome substitutes the scan pacer, e.g. a FakeMetronome in tests.
func WithMetronome(m Metronome) MonitorOption {
	return func(mon *Monitor) { mon.metronome = m }
}

// NewMonitor creates a monitor and starts its polling loop.
func NewMonitor(fs *filestore.Store, assignmentCB AssignmentCallback, chunkCB ChunkCallback, opts ...MonitorOption) (*Monitor, error) {
	if assignmentCB == nil || chunkCB == nil {
		return nil, errors.New("all monitor callbacks must be set")
	}
	m := &Monitor{
		fs:           fs,
		assignmentCB: assignmentCB,
		chunkCB:      chunkCB,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metronome == nil {
		met, err := NewMetronome(DefaultNotificationFrequency)
		if err != nil {
			return nil, err
		}
		m.metronome = met
	}
	m.wg.Add(1)
	go m.poll()
	return m, nil
}

// Close stops polling and releases any held assignment.
func (m *Monitor) Close() {
	m.metronome.Stop()
	close(m.done)
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock != nil {
		if err := m.lock.Release(); err != nil {
			slog.Warn("Failed to release assignment lock on close", "error", err)
		}
		m.lock = nil
		m.acquired = nil
	}
}

func notificationDir(assignment resourceid.ID) string {
	return notificationRoot + "/" + assignment.String()
}

// Acquire takes the exclusive lock on an assignment. It returns false when
// another process holds it. A process holds at most one assignment; calling
// Acquire while one is held is an error.
func (m *Monitor) Acquire(assignment resourceid.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquired != nil {
		return false, fmt.Errorf("cannot acquire %s: assignment %s is already acquired",
			assignment, *m.acquired)
	}
	lock, err := m.fs.LockFile(notificationDir(assignment), 0)
	if errors.Is(err, filestore.ErrUnableToLock) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.lock = lock
	id := assignment
	m.acquired = &id
	return true, nil
}

// Release releases the currently acquired assignment.
func (m *Monitor) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock == nil {
		return errors.New("no assignment has been acquired")
	}
	err := m.lock.Release()
	m.lock = nil
	m.acquired = nil
	return err
}

// Acquired returns the held assignment id, or nil.
func (m *Monitor) Acquired() *resourceid.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquired == nil {
		return nil
	}
	id := *m.acquired
	return &id
}

// TriggerNotification records that a chunk was appended to an assignment.
// No lock is needed: the notification directory is append-only for
// producers. The ingestion path calls this without a monitor.
func TriggerNotification(fs *filestore.Store, assignment, chunk resourceid.ID) error {
	digest := sha256.Sum256([]byte(chunk.String()))
	name := fmt.Sprintf("chunk_%d_%s", time.Now().UnixMicro(), hex.EncodeToString(digest[:]))
	path := notificationDir(assignment) + "/" + name
	content := assignment.String() + "\n" + chunk.String()
	return fs.Write(path, []byte(content))
}

// TriggerNotification records a chunk notification through this monitor's
// store.
func (m *Monitor) TriggerNotification(assignment, chunk resourceid.ID) error {
	return TriggerNotification(m.fs, assignment, chunk)
}

// poll scans the notification tree at the metronome's pace.
func (m *Monitor) poll() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-m.metronome.Tick():
			m.scan()
		}
	}
}

func (m *Monitor) scan() {
	m.mu.Lock()
	acquired := m.acquired
	m.mu.Unlock()
	if acquired != nil {
		m.scanAcquired(*acquired)
		return
	}
	m.scanAll()
}

// notificationPattern matches every notification file. Assignment ids are
// JSON documents containing glob metacharacters, so patterns never embed a
// literal assignment id; scans match broadly and filter by exact prefix.
func notificationPattern() string {
	return notificationRoot + "/" + strings.Repeat("*/", assignmentPathDepth) + "chunk_*"
}

// scanAcquired consumes (reads then deletes) the acquired assignment's
// notifications and delivers the chunk ids. Only the lock holder deletes
// notification files, which is what makes delivery exactly-once across
// ownership transitions.
func (m *Monitor) scanAcquired(assignment resourceid.ID) {
	all, err := m.fs.Glob(notificationPattern())
	if err != nil {
		slog.Warn("Notification scan failed", "assignment", assignment.String(), "error", err)
		return
	}
	prefix := notificationDir(assignment) + "/"
	var files []string
	for _, f := range all {
		if strings.HasPrefix(f, prefix) {
			files = append(files, f)
		}
	}
	var chunks []resourceid.ID
	seen := make(map[string]bool)
	for _, f := range files {
		content, err := m.fs.Read(f)
		if err != nil {
			continue // Consumed concurrently or mid-write; next tick retries.
		}
		lines := strings.SplitN(string(content), "\n", 2)
		if len(lines) != 2 {
			slog.Warn("Malformed notification file", "path", f)
			_ = m.fs.Remove(f)
			continue
		}
		chunkID, err := resourceid.Parse(resourceid.Resources, lines[1])
		if err != nil {
			slog.Warn("Malformed chunk id in notification", "path", f, "error", err)
			_ = m.fs.Remove(f)
			continue
		}
		if err := m.fs.Remove(f); err != nil {
			slog.Warn("Failed to remove consumed notification", "path", f, "error", err)
		}
		if !seen[chunkID.String()] {
			seen[chunkID.String()] = true
			chunks = append(chunks, chunkID)
		}
	}
	if len(chunks) == 0 {
		return
	}
	// Within an episode chunks must be delivered in ascending chunk id.
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Episode() != chunks[j].Episode() {
			return chunks[i].Episode() < chunks[j].Episode()
		}
		ci, _ := chunks[i].ChunkIndex()
		cj, _ := chunks[j].ChunkIndex()
		return ci < cj
	})
	m.chunkCB(assignment, chunks)
}

// scanAll fires the broadcast callback for every assignment directory with
// pending notifications that is not locked by another process.
func (m *Monitor) scanAll() {
	files, err := m.fs.Glob(notificationPattern())
	if err != nil {
		slog.Warn("Notification scan failed", "error", err)
		return
	}
	dirs := make(map[string]bool)
	for _, f := range files {
		idx := strings.LastIndexByte(f, '/')
		dirs[f[:idx]] = true
	}
	for dir := range dirs {
		idStr := strings.TrimPrefix(dir, notificationRoot+"/")
		assignment, err := resourceid.Parse(resourceid.Resources, idStr)
		if err != nil {
			continue
		}
		// Probe the lock: an assignment held by another process is not
		// broadcast.
		lock, err := m.fs.LockFile(dir, 0)
		if errors.Is(err, filestore.ErrUnableToLock) {
			continue
		}
		if err != nil {
			slog.Warn("Lock probe failed", "assignment", idStr, "error", err)
			continue
		}
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release probe lock", "assignment", idStr, "error", err)
		}
		m.assignmentCB(assignment)
	}
}
