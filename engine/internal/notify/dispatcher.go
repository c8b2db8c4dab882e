package notify

import (
	"context"
	"sync"
	"time"

	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/metrics"
)

const deliverTimeout = 5 * time.Second

var (
	urgentKinds  = []events.Kind{events.KindEmergencyStop, events.KindAllVenuesUnavailable}
	regularKinds = []events.Kind{
		events.KindTradeExecuted, events.KindTradeClosed, events.KindRiskAlert, events.KindVenueUnavailable,
	}
)

// Dispatcher fans bus events out to the sinks. Emergency stops and total
// venue loss are delivered ahead of anything queued.
type Dispatcher struct {
	bus   *events.Bus
	sinks []Sink
	log   *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(bus *events.Bus, log *logger.Logger, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{bus: bus, sinks: sinks, log: log.Named("notify")}
}

// Start subscribes to the bus and delivers until Stop
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	urgent := d.bus.Subscribe("notify-urgent", 64, urgentKinds...)
	regular := d.bus.Subscribe("notify", 1024, regularKinds...)
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		defer d.bus.Unsubscribe(urgent)
		defer d.bus.Unsubscribe(regular)
		d.run(ctx, urgent, regular)
	}()
}

func (d *Dispatcher) run(ctx context.Context, urgent, regular *events.Subscription) {
	for {
		select {
		case e, ok := <-urgent.Events():
			if !ok {
				return
			}
			d.Deliver(ctx, e)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case e, ok := <-urgent.Events():
			if !ok {
				return
			}
			d.Deliver(ctx, e)
		case e, ok := <-regular.Events():
			if !ok {
				return
			}
			d.Deliver(ctx, e)
		}
	}
}

// Deliver hands one event to every sink
func (d *Dispatcher) Deliver(ctx context.Context, e events.Event) {
	for _, sink := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, deliverTimeout)
		err := sink.Deliver(sctx, e)
		cancel()
		if err != nil {
			metrics.Notifications.WithLabelValues(sink.Name(), metrics.OutcomeFailure).Inc()
			d.log.Warnf("Failed to deliver %s to %s: %v", e.Kind(), sink.Name(), err)
			continue
		}
		metrics.Notifications.WithLabelValues(sink.Name(), metrics.OutcomeSuccess).Inc()
	}
}

// Stop ends delivery and waits for the loop to exit
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
