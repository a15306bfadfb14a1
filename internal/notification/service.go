package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bloodbridge/platform/internal/shared/config"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/metrics"
)

// DispatcherConfig holds dispatcher configuration
type DispatcherConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
	// SendRate caps provider calls per second across all workers; 0 disables.
	SendRate float64
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:       4,
		BufferSize:    256,
		RetryAttempts: 3,
		RetryDelay:    2 * time.Second,
		SendRate:      5,
	}
}

// DispatcherConfigFrom maps service configuration onto the dispatcher.
func DispatcherConfigFrom(cfg config.NotificationConfig) DispatcherConfig {
	return DispatcherConfig{
		Workers:       cfg.Workers,
		BufferSize:    cfg.BufferSize,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		SendRate:      cfg.SendRate,
	}
}

// Dispatcher queues messages and delivers them from a worker pool. Delivery
// is fire-and-forget: callers learn about outcomes only through OnResult.
type Dispatcher struct {
	providers map[Channel]Provider
	limiter   *rate.Limiter
	onResult  func(Result)
	logger    *zap.Logger

	queue chan Message

	mu      sync.RWMutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	config DispatcherConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher with no providers registered.
func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), max(1, int(cfg.SendRate)))
	}

	return &Dispatcher{
		providers: make(map[Channel]Provider),
		limiter:   limiter,
		logger:    logger.Named("notification"),
		queue:     make(chan Message, cfg.BufferSize),
		stopCh:    make(chan struct{}),
		config:    cfg,
		sleep:     sleepContext,
	}
}

// Register binds a provider to a channel. Call before Start.
func (d *Dispatcher) Register(ch Channel, p Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[ch] = p
}

// OnResult installs a hook invoked once per message after its final attempt.
// Call before Start.
func (d *Dispatcher) OnResult(fn func(Result)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResult = fn
}

// Supports reports whether a provider is registered for ch.
func (d *Dispatcher) Supports(ch Channel) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.providers[ch]
	return ok
}

// Start starts the worker pool
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	d.mu.Unlock()

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	d.logger.Info("notification dispatcher started",
		zap.Int("workers", d.config.Workers),
		zap.Int("buffer", d.config.BufferSize),
	)
	return nil
}

// Stop stops the workers and waits for in-flight deliveries.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()

	if n := len(d.queue); n > 0 {
		d.logger.Warn("notification dispatcher stopped with queued messages", zap.Int("dropped", n))
	}
	return nil
}

// Dispatch queues msg for delivery. It fails only when the channel has no
// provider or the buffer is full; provider errors surface through OnResult.
func (d *Dispatcher) Dispatch(msg Message) error {
	if !d.Supports(msg.Channel) {
		return errors.Validation("unsupported notification channel", map[string]string{"channel": string(msg.Channel)})
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	select {
	case d.queue <- msg:
		return nil
	default:
		return errors.Delivery(string(msg.Channel), fmt.Errorf("notification buffer full"))
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case msg := <-d.queue:
			res := d.deliver(ctx, msg)
			d.report(res)
		}
	}
}

// deliver tries the provider up to RetryAttempts times, doubling the delay
// after each failure.
func (d *Dispatcher) deliver(ctx context.Context, msg Message) Result {
	d.mu.RLock()
	provider := d.providers[msg.Channel]
	d.mu.RUnlock()

	start := time.Now()
	res := Result{Message: msg}
	delay := d.config.RetryDelay

	for attempt := 1; attempt <= d.config.RetryAttempts; attempt++ {
		res.Attempts = attempt

		if err := d.limiter.Wait(ctx); err != nil {
			res.Err = err
			break
		}

		err := provider.Send(ctx, &msg)
		if err == nil {
			res.Delivered = true
			res.Err = nil
			break
		}
		res.Err = err

		d.logger.Warn("notification attempt failed",
			zap.String("message_id", msg.ID),
			zap.String("channel", string(msg.Channel)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == d.config.RetryAttempts {
			break
		}
		if err := d.sleep(ctx, delay); err != nil {
			res.Err = err
			break
		}
		delay *= 2
	}

	res.Message = msg
	res.Elapsed = time.Since(start)
	return res
}

func (d *Dispatcher) report(res Result) {
	metrics.RecordNotification(string(res.Message.Channel), res.Delivered, res.Elapsed)

	if !res.Delivered {
		d.logger.Error("notification delivery failed",
			zap.String("message_id", res.Message.ID),
			zap.String("channel", string(res.Message.Channel)),
			zap.String("recipient_id", res.Message.RecipientID.String()),
			zap.Int("attempts", res.Attempts),
			zap.Error(errors.Delivery(string(res.Message.Channel), res.Err)),
		)
	}

	d.mu.RLock()
	hook := d.onResult
	d.mu.RUnlock()
	if hook != nil {
		hook(res)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
