package radio

import (
	"context"
	"sync"
	"time"
)

// maxBackoffShift keeps 1<<attempt seconds well inside time.Duration.
const maxBackoffShift = 30

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	limit := time.Duration(maxSeconds) * time.Second
	if attempt >= maxBackoffShift {
		return limit
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > limit {
		return limit
	}
	return delay
}

// Reconnector re-establishes the link after it is lost. The first attempt
// is immediate; later ones back off exponentially up to maxSeconds.
// Disconnects requested by the caller are not link losses and are left alone.
type Reconnector struct {
	ctrl       *Controller
	maxSeconds int
	sub        *Subscription

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewReconnector starts watching ctrl for link loss.
func NewReconnector(ctrl *Controller, maxSeconds int) *Reconnector {
	if maxSeconds <= 0 {
		maxSeconds = 30
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconnector{
		ctrl:       ctrl,
		maxSeconds: maxSeconds,
		sub:        ctrl.Subscribe(EventLinkLost),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

func (r *Reconnector) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-r.sub.C:
			if !ok {
				return
			}
			r.reconnect(ctx)
		}
	}
}

func (r *Reconnector) reconnect(ctx context.Context) {
	logger := r.ctrl.logger
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, r.maxSeconds)
			logger.Info("reconnect backoff", "attempt", attempt+1, "delay", delay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		_, err := r.ctrl.Connect(ctx)
		if err == nil {
			logger.Info("reconnected", "attempts", attempt+1)
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Warn("reconnect failed", "error", err, "attempt", attempt+1)
	}
}

// Close stops reconnecting and waits for the loop to exit.
func (r *Reconnector) Close() {
	r.once.Do(func() {
		r.cancel()
		r.sub.Close()
		<-r.done
	})
}
