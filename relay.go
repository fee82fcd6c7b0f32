package quotarelay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Dispatcher admits calls against per-account session quotas and forwards
// the admitted ones to the Engine.
type Dispatcher struct {
	cfg     Config
	policy  QuotaPolicy
	fees    FeeSchedule
	ledger  QuotaLedger
	engine  Engine
	counter Counter
	meter   Meter
	locker  Locker
	tracker *FeeTracker
	logger  *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMeter sets the event sink.
func WithMeter(m Meter) Option {
	return func(d *Dispatcher) { d.meter = m }
}

// WithLocker sets the per-account serialization mechanism.
func WithLocker(l Locker) Option {
	return func(d *Dispatcher) { d.locker = l }
}

// WithFeeSchedule overrides the fee schedule from the config.
func WithFeeSchedule(s FeeSchedule) Option {
	return func(d *Dispatcher) { d.fees = s }
}

// WithFeeTracker records every fee disposition in t.
func WithFeeTracker(t *FeeTracker) Option {
	return func(d *Dispatcher) { d.tracker = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher. The config is validated and copied;
// an invalid config is a startup error wrapping ErrConfiguration.
// Default components (LocalLocker, no-op meter, slog.Default) are used unless
// overridden via options.
func NewDispatcher(cfg Config, ledger QuotaLedger, engine Engine, counter Counter, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: a quota ledger is required", ErrConfiguration)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: an engine is required", ErrConfiguration)
	}
	if counter == nil {
		return nil, fmt.Errorf("%w: a counter is required", ErrConfiguration)
	}
	if cfg.Fees != nil {
		fees := *cfg.Fees
		cfg.Fees = &fees
	}

	d := &Dispatcher{
		cfg:     cfg,
		policy:  QuotaPolicy{MaxCalls: cfg.MaxCalls},
		fees:    cfg.feeSchedule(),
		ledger:  ledger,
		engine:  engine,
		counter: counter,
	}

	for _, opt := range opts {
		opt(d)
	}

	// Apply defaults after options.
	if d.meter == nil {
		d.meter = noopMeter{}
	}
	if d.locker == nil {
		d.locker = NewLocalLocker()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	return d, nil
}

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.cfg }

// Submit runs the full admission pipeline for one call: it serializes on the
// origin account, derives the session from the counter, evaluates the quota
// and relays the call.
func (d *Dispatcher) Submit(ctx context.Context, env CallEnvelope) (RelayOutcome, error) {
	account := env.Account()
	if account == "" {
		return RelayOutcome{}, ErrNotAuthenticated
	}

	unlock, err := d.locker.Lock(ctx, account)
	if err != nil {
		return RelayOutcome{}, &RelayError{Op: "lock", Account: account, Err: err}
	}
	defer unlock()

	session, err := d.currentSession(ctx)
	if err != nil {
		return RelayOutcome{}, &RelayError{Op: "counter", Account: account, Err: err}
	}

	dec, err := d.Decide(ctx, account, session)
	if err != nil {
		return RelayOutcome{}, err
	}

	return d.Relay(ctx, env, dec)
}

// Decide reads the account's record and evaluates it against session.
// It never writes to the ledger.
func (d *Dispatcher) Decide(ctx context.Context, account Account, session SessionID) (Decision, error) {
	record, err := d.ledger.Get(ctx, account)
	if err != nil {
		d.logger.Error("ledger read failed",
			"account", account,
			"session", session,
			"error", err,
		)
		return Decision{}, storageError("ledger get", account, session, err)
	}
	return d.policy.Evaluate(record, session), nil
}

// Relay carries out a decision. An allowed call is committed to the ledger
// before it is forwarded, so it consumes quota even if the engine rejects it.
// The returned error is non-nil only when the ledger write fails; engine
// failures are reported in the outcome.
func (d *Dispatcher) Relay(ctx context.Context, env CallEnvelope, dec Decision) (RelayOutcome, error) {
	account := env.Account()
	out := RelayOutcome{
		ID:      uuid.New().String(),
		Account: account,
		Session: dec.Session,
		Fee:     d.fees.Disposition(dec),
		Record:  dec.Record,
	}

	if !dec.Allowed {
		d.recordFee(out)
		d.logger.Debug("relay denied",
			"account", account,
			"session", dec.Session,
			"call", callKind(env.Call),
			"used", dec.Used,
			"limit", dec.Limit,
		)
		if d.cfg.EmitDenyEvents {
			d.meter.OnDenied(DeniedEvent{
				ID:      out.ID,
				Account: account,
				Session: dec.Session,
				Call:    callKind(env.Call),
				Used:    dec.Used,
				Limit:   dec.Limit,
				Fee:     out.Fee,
			})
		}
		return out, nil
	}

	if err := d.ledger.Set(ctx, account, dec.Record); err != nil {
		d.logger.Error("ledger write failed",
			"account", account,
			"session", dec.Session,
			"error", err,
		)
		return RelayOutcome{}, storageError("ledger set", account, dec.Session, err)
	}

	start := time.Now()
	info, err := d.engine.Execute(ctx, env.Origin, env.Call)
	duration := time.Since(start)

	out.Forwarded = true
	out.Result = InnerResult{Info: info, Err: err}
	d.recordFee(out)

	d.meter.OnRelayed(RelayedEvent{
		ID:       out.ID,
		Account:  account,
		Session:  dec.Session,
		Call:     callKind(env.Call),
		Success:  err == nil,
		Used:     dec.Record.Used,
		Limit:    dec.Limit,
		Duration: duration,
		Error:    err,
	})

	return out, nil
}

// Quota reports the account's usage in the current session without
// consuming anything.
func (d *Dispatcher) Quota(ctx context.Context, account Account) (QuotaStatus, error) {
	session, err := d.currentSession(ctx)
	if err != nil {
		return QuotaStatus{}, &RelayError{Op: "counter", Account: account, Err: err}
	}

	record, err := d.ledger.Get(ctx, account)
	if err != nil {
		return QuotaStatus{}, storageError("ledger get", account, session, err)
	}

	used := effectiveUsed(record, session)
	var remaining uint32
	if used < d.policy.MaxCalls {
		remaining = d.policy.MaxCalls - used
	}

	return QuotaStatus{
		Account:      account,
		Session:      session,
		Used:         used,
		Limit:        d.policy.MaxCalls,
		Remaining:    remaining,
		SessionStart: session.Start(d.cfg.SessionLength),
		SessionEnd:   session.End(d.cfg.SessionLength),
	}, nil
}

func (d *Dispatcher) currentSession(ctx context.Context) (SessionID, error) {
	counter, err := d.counter.Current(ctx)
	if err != nil {
		return 0, err
	}
	return CurrentSession(counter, d.cfg.SessionLength), nil
}

func (d *Dispatcher) recordFee(out RelayOutcome) {
	if d.tracker != nil {
		d.tracker.Record(out.Account, out.Session, out.Fee)
	}
}

func callKind(c Call) string {
	if c == nil {
		return ""
	}
	return c.Kind()
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnRelayed(RelayedEvent) {}
func (noopMeter) OnDenied(DeniedEvent)   {}
