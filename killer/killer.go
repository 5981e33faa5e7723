// Package killer enforces escalating deadlines on a running task: a
// cooperative soft interruption, a forceful hard abort, and unconditional
// process termination at the critical tier.
package killer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Tier identifies which deadline fired.
type Tier int

const (
	TierNone Tier = iota
	TierSoft
	TierHard
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierSoft:
		return "soft"
	case TierHard:
		return "hard"
	case TierCritical:
		return "critical"
	default:
		return "none"
	}
}

// Timeout causes observed by user code through context.Cause.
var (
	ErrSoftTimeout = errors.New("task soft timeout")
	ErrHardTimeout = errors.New("task hard timeout")
)

// Cancellable is the execution context a Killer escalates against. Soft and
// hard cancel the target itself; critical is by definition unrecoverable and
// takes the hosting process down.
type Cancellable interface {
	CancelSoft()
	CancelHard()
	CancelCritical()
}

const defaultPollInterval = 100 * time.Millisecond

type options struct {
	logger       *slog.Logger
	pollInterval time.Duration
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPollInterval overrides the watch cadence. The cadence bounds how
// stale a Disarm can be and still win the race against a firing tier.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// Killer watches the wall clock relative to the latest Arm and escalates
// through the configured tiers. A zero tier is skipped; later tiers still
// measure from Arm. The watch loop itself must stay healthy: a panic inside
// it escalates straight to the critical tier, because a broken supervisor
// cannot be trusted to enforce anything.
type Killer struct {
	target   Cancellable
	soft     time.Duration
	hard     time.Duration
	critical time.Duration

	logger       *slog.Logger
	pollInterval time.Duration

	mu            sync.Mutex
	armed         bool
	armedAt       time.Time
	softFired     bool
	hardFired     bool
	criticalFired bool
	terminated    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a killer watching target. It is idle until Arm.
func New(target Cancellable, soft, hard, critical time.Duration, opts ...Option) *Killer {
	o := &options{
		pollInterval: defaultPollInterval,
	}
	for _, fn := range opts {
		fn(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	k := &Killer{
		target:       target,
		soft:         soft,
		hard:         hard,
		critical:     critical,
		logger:       o.logger,
		pollInterval: o.pollInterval,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	go k.watch(ctx)

	return k
}

// Arm starts the clock. Arming an already armed killer is a usage error and
// a no-op; the running window keeps its original start time.
func (k *Killer) Arm() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.terminated {
		k.logger.Warn("arm on a terminated killer ignored")
		return
	}
	if k.armed {
		k.logger.Warn("arm on an armed killer ignored")
		return
	}

	k.armed = true
	k.armedAt = time.Now()
	k.softFired = false
	k.hardFired = false
	k.criticalFired = false
}

// DisarmAndReset stops the clock without firing and returns to idle.
func (k *Killer) DisarmAndReset() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.armed = false
	k.softFired = false
	k.hardFired = false
	k.criticalFired = false
}

// Terminate permanently releases the watch loop. The killer cannot be
// rearmed afterwards.
func (k *Killer) Terminate() {
	k.mu.Lock()
	if k.terminated {
		k.mu.Unlock()
		return
	}
	k.terminated = true
	k.armed = false
	k.mu.Unlock()

	k.cancel()
	<-k.done
}

func (k *Killer) watch(ctx context.Context) {
	defer close(k.done)
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("killer watch loop panicked, escalating to critical", slog.Any("recover", r))
			k.target.CancelCritical()
		}
	}()

	ticker := time.NewTicker(k.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			for _, tier := range k.dueTiers(now) {
				switch tier {
				case TierSoft:
					k.logger.Debug("soft timeout fired")
					k.target.CancelSoft()
				case TierHard:
					k.logger.Warn("hard timeout fired")
					k.target.CancelHard()
				case TierCritical:
					k.logger.Error("critical timeout fired")
					k.target.CancelCritical()
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// dueTiers marks and returns the tiers that newly expired at now. Target
// callbacks happen outside the lock.
func (k *Killer) dueTiers(now time.Time) []Tier {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.armed {
		return nil
	}

	elapsed := now.Sub(k.armedAt)

	var due []Tier
	if k.soft > 0 && !k.softFired && elapsed >= k.soft {
		k.softFired = true
		due = append(due, TierSoft)
	}
	if k.hard > 0 && !k.hardFired && elapsed >= k.hard {
		k.hardFired = true
		due = append(due, TierHard)
	}
	if k.critical > 0 && !k.criticalFired && elapsed >= k.critical {
		k.criticalFired = true
		due = append(due, TierCritical)
	}

	return due
}
