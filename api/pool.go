package api

import (
	"context"
	"hash/crc32"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// EventPublisher delivers a batch of events to the outside world.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []domain.Event) error
}

// DispatcherConfig sizes the event worker pool.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	BatchSize      int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	return c
}

// EventDispatcher hands domain events to background workers so request
// handlers never wait on the queue. Events of one user always go to the
// same worker and are published in the order they were accepted.
type EventDispatcher struct {
	pub    EventPublisher
	cfg    DispatcherConfig
	log    *log.Logger
	queues []chan domain.Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewEventDispatcher starts cfg.Workers goroutines publishing through pub.
// cfg.Buffer is split evenly between the workers.
func NewEventDispatcher(pub EventPublisher, cfg DispatcherConfig, logger *log.Logger) *EventDispatcher {
	if pub == nil {
		panic("event publisher is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	cfg = cfg.withDefaults()
	d := &EventDispatcher{
		pub:    pub,
		cfg:    cfg,
		log:    logger,
		queues: make([]chan domain.Event, cfg.Workers),
	}
	perWorker := (cfg.Buffer + cfg.Workers - 1) / cfg.Workers
	for i := range d.queues {
		d.queues[i] = make(chan domain.Event, perWorker)
		d.wg.Add(1)
		go d.worker(i, d.queues[i])
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.PublishTimeout, cfg.HandoffTimeout)
	return d
}

// Publish queues ev without blocking longer than the handoff timeout. Events
// that do not fit are dropped with a warning.
func (d *EventDispatcher) Publish(ev domain.Event) {
	if !d.tryHandoff(ev) {
		d.log.WithFields(log.Fields{"type": ev.Type, "task": ev.TaskID, "user": ev.UserID}).Warn("event dropped, dispatcher saturated")
	}
}

func (d *EventDispatcher) queueFor(userID string) chan domain.Event {
	return d.queues[crc32.ChecksumIEEE([]byte(userID))%uint32(len(d.queues))]
}

func (d *EventDispatcher) tryHandoff(ev domain.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	q := d.queueFor(ev.UserID)
	select {
	case q <- ev:
		return true
	default:
	}

	if d.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case q <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (d *EventDispatcher) worker(id int, events <-chan domain.Event) {
	defer d.wg.Done()
	batch := make([]domain.Event, 0, d.cfg.BatchSize)
	for ev := range events {
		batch = append(batch[:0], ev)
	drain:
		for len(batch) < d.cfg.BatchSize {
			select {
			case next, ok := <-events:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
		err := d.pub.PublishEvents(ctx, batch)
		cancel()
		if err != nil {
			d.log.Errorf("publish events failed, err: %v, count: %d, worker: %d", err, len(batch), id)
		}
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (d *EventDispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		for _, q := range d.queues {
			close(q)
		}
		d.mu.Unlock()
		d.wg.Wait()
	})
}
