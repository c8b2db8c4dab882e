package orchestrator

import (
	"context"
	"fmt"
	"time"
)

func (o *Orchestrator) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.CheckHealth(ctx)
		}
	}
}

// CheckHealth pings connected venues and restarts disconnected ones. A venue
// that fails HealthMaxRetries restarts in a row, or whose token was refused,
// goes dormant until Revive.
func (o *Orchestrator) CheckHealth(ctx context.Context) {
	for _, m := range o.ordered() {
		o.checkVenue(ctx, m)
	}
	o.ensureActive()
}

func (o *Orchestrator) checkVenue(ctx context.Context, m *member) {
	id := m.client.ID()

	o.mu.RLock()
	dormant := m.dormant
	o.mu.RUnlock()

	switch {
	case dormant, m.client.Reconnecting():
		return
	case m.client.AuthFailed():
		// a refused token needs new credentials, not another attempt
		o.mu.Lock()
		m.dormant = true
		o.mu.Unlock()
		o.log.Errorf("Venue %s dormant: authentication refused, revive after fixing credentials", id)
		return
	case m.client.IsReady():
		if err := m.client.Ping(ctx); err != nil {
			o.log.Warnf("Venue %s keepalive failed: %v", id, err)
		}
		return
	}

	if m.client.Unavailable() {
		m.client.Reset()
	}
	err := m.client.Start(ctx)

	o.mu.Lock()
	if err == nil {
		m.failures = 0
		o.mu.Unlock()
		o.log.Infof("Venue %s restored by health check", id)
		o.watch(ctx, m)
		return
	}
	m.failures++
	failures := m.failures
	if failures >= o.cfg.HealthMaxRetries {
		m.dormant = true
	}
	o.mu.Unlock()

	if failures >= o.cfg.HealthMaxRetries {
		o.log.Errorf("Venue %s dormant after %d failed health reconnects: %v", id, failures, err)
		return
	}
	o.log.Warnf("Venue %s health reconnect %d/%d failed: %v", id, failures, o.cfg.HealthMaxRetries, err)
}

// ensureActive moves off an active venue that is no longer connected
func (o *Orchestrator) ensureActive() {
	active := o.ActiveVenue()
	if active != "" {
		if m, ok := o.member(active); ok && m.client.IsReady() {
			return
		}
		_, _ = o.SwitchActiveVenue()
		return
	}
	for _, m := range o.ordered() {
		if m.client.IsReady() {
			_, _ = o.SwitchActiveVenue()
			return
		}
	}
}

// Revive wakes a dormant venue and starts it again
func (o *Orchestrator) Revive(ctx context.Context, id string) error {
	m, ok := o.member(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVenue, id)
	}

	o.mu.Lock()
	m.dormant = false
	m.failures = 0
	o.mu.Unlock()

	m.client.Reset()
	if err := m.client.Start(ctx); err != nil {
		o.mu.Lock()
		m.failures++
		o.mu.Unlock()
		return err
	}
	o.log.Infof("Venue %s revived", id)
	o.watch(ctx, m)
	o.ensureActive()
	return nil
}
