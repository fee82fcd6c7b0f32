package quotarelay_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	qr "github.com/ineyio/quotarelay"
	"github.com/ineyio/quotarelay/engine/mock"
	"github.com/ineyio/quotarelay/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMeter captures every event it receives.
type recordingMeter struct {
	mu      sync.Mutex
	relayed []qr.RelayedEvent
	denied  []qr.DeniedEvent
}

func (m *recordingMeter) OnRelayed(e qr.RelayedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relayed = append(m.relayed, e)
}

func (m *recordingMeter) OnDenied(e qr.DeniedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied = append(m.denied, e)
}

// failingLedger wraps a ledger and fails reads or writes on demand.
type failingLedger struct {
	qr.QuotaLedger
	failGet bool
	failSet bool
}

var errBackendDown = errors.New("backend down")

func (l *failingLedger) Get(ctx context.Context, a qr.Account) (qr.QuotaRecord, error) {
	if l.failGet {
		return qr.QuotaRecord{}, errBackendDown
	}
	return l.QuotaLedger.Get(ctx, a)
}

func (l *failingLedger) Set(ctx context.Context, a qr.Account, r qr.QuotaRecord) error {
	if l.failSet {
		return errBackendDown
	}
	return l.QuotaLedger.Set(ctx, a, r)
}

func scenarioConfig() qr.Config {
	return qr.Config{MaxCalls: 3, SessionLength: 1000}
}

func newTestDispatcher(t *testing.T, cfg qr.Config, l qr.QuotaLedger, e qr.Engine, c qr.Counter, opts ...qr.Option) *qr.Dispatcher {
	t.Helper()
	d, err := qr.NewDispatcher(cfg, l, e, c, opts...)
	require.NoError(t, err)
	return d
}

func envelope(account qr.Account) qr.CallEnvelope {
	return qr.CallEnvelope{Origin: qr.Origin{Account: account}, Call: mock.Call("remark")}
}

// Scenario A: three calls fit in session 0, the fourth is denied.
func TestScenarioA_QuotaExhaustedWithinSession(t *testing.T) {
	l := ledger.NewMemory()
	eng := mock.New()
	d := newTestDispatcher(t, scenarioConfig(), l, eng, qr.NewManualCounter(500))
	ctx := context.Background()

	for i := uint32(1); i <= 3; i++ {
		out, err := d.Submit(ctx, envelope("alice"))
		require.NoError(t, err)
		assert.True(t, out.Forwarded)
		assert.Equal(t, qr.QuotaRecord{LastSession: 0, Used: i}, out.Record)
		assert.Equal(t, qr.FeeWaived, out.Fee.Kind)
		assert.NoError(t, out.Err())
	}

	out, err := d.Submit(ctx, envelope("alice"))
	require.NoError(t, err)
	assert.False(t, out.Forwarded)
	assert.Equal(t, qr.FeeReducedFixed, out.Fee.Kind)
	assert.Equal(t, qr.DefaultFeeSchedule().ReducedWeight(), out.Fee.Weight)
	assert.ErrorIs(t, out.Err(), qr.ErrQuotaExceeded)
	assert.True(t, qr.IsDenied(out.Err()))

	rec, err := l.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, qr.QuotaRecord{LastSession: 0, Used: 3}, rec)
	assert.Equal(t, int64(3), eng.CallCount())
}

// Scenario B: the next session starts fresh.
func TestScenarioB_NewSessionResets(t *testing.T) {
	l := ledger.NewMemory()
	ctx := context.Background()
	require.NoError(t, l.Set(ctx, "alice", qr.QuotaRecord{LastSession: 0, Used: 3}))

	counter := qr.NewManualCounter(500)
	d := newTestDispatcher(t, scenarioConfig(), l, mock.New(), counter)

	out, err := d.Submit(ctx, envelope("alice"))
	require.NoError(t, err)
	assert.False(t, out.Forwarded)

	counter.Set(1000)
	out, err = d.Submit(ctx, envelope("alice"))
	require.NoError(t, err)
	assert.True(t, out.Forwarded)
	assert.Equal(t, qr.QuotaRecord{LastSession: 1, Used: 1}, out.Record)

	rec, err := l.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, qr.QuotaRecord{LastSession: 1, Used: 1}, rec)
}

// Scenario C: max_calls=0 denies every call.
func TestScenarioC_ZeroQuotaDeniesAll(t *testing.T) {
	l := ledger.NewMemory()
	eng := mock.New()
	counter := qr.NewManualCounter(0)
	cfg := qr.Config{MaxCalls: 0, SessionLength: 10}
	d := newTestDispatcher(t, cfg, l, eng, counter)
	ctx := context.Background()

	for _, account := range []qr.Account{"alice", "bob", "carol"} {
		for s := 0; s < 3; s++ {
			out, err := d.Submit(ctx, envelope(account))
			require.NoError(t, err)
			assert.False(t, out.Forwarded)
			counter.Advance(10)
		}
	}
	assert.Equal(t, int64(0), eng.CallCount())
	assert.Equal(t, 0, l.Len(), "denials never write the ledger")
}

// Scenario D: quota is consumed even when the forwarded call fails.
func TestScenarioD_ForwardFailureStillConsumesQuota(t *testing.T) {
	l := ledger.NewMemory()
	innerErr := errors.New("dispatch error: bad origin")
	m := &recordingMeter{}
	d := newTestDispatcher(t, scenarioConfig(), l, mock.New(mock.WithError(innerErr)), qr.NewManualCounter(500),
		qr.WithMeter(m))
	ctx := context.Background()

	out, err := d.Submit(ctx, envelope("alice"))
	require.NoError(t, err, "forwarding failures never fail the relay")
	assert.True(t, out.Forwarded)
	assert.False(t, out.Result.Succeeded())
	assert.ErrorIs(t, out.Result.Err, innerErr)
	assert.Equal(t, qr.FeeWaived, out.Fee.Kind)
	assert.ErrorIs(t, out.Err(), qr.ErrForwardingFailed)
	assert.ErrorIs(t, out.Err(), innerErr)

	rec, err := l.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, qr.QuotaRecord{LastSession: 0, Used: 1}, rec)

	require.Len(t, m.relayed, 1)
	assert.False(t, m.relayed[0].Success)
	assert.Equal(t, qr.Account("alice"), m.relayed[0].Account)
}

func TestRelay_LedgerCommittedBeforeForward(t *testing.T) {
	l := ledger.NewMemory()
	var seen qr.QuotaRecord
	eng := mock.New(mock.WithFunc(func(o qr.Origin, _ qr.Call) (qr.PostExecutionInfo, error) {
		var err error
		seen, err = l.Get(context.Background(), o.Account)
		return qr.PostExecutionInfo{}, err
	}))
	d := newTestDispatcher(t, scenarioConfig(), l, eng, qr.NewManualCounter(2500))

	_, err := d.Submit(context.Background(), envelope("alice"))
	require.NoError(t, err)
	assert.Equal(t, qr.QuotaRecord{LastSession: 2, Used: 1}, seen)
}

func TestRelay_ForwardsUnderOrigin(t *testing.T) {
	eng := mock.New()
	d := newTestDispatcher(t, scenarioConfig(), ledger.NewMemory(), eng, qr.NewManualCounter(0))

	_, err := d.Submit(context.Background(), envelope("alice"))
	require.NoError(t, err)
	assert.Equal(t, []qr.Origin{{Account: "alice"}}, eng.Origins())
}

func TestRelay_DenyDoesNotTouchLedger(t *testing.T) {
	l := &failingLedger{QuotaLedger: ledger.NewMemory(), failSet: true}
	d := newTestDispatcher(t, scenarioConfig(), l, mock.New(), qr.NewManualCounter(0))

	dec := qr.QuotaPolicy{MaxCalls: 0}.Evaluate(qr.QuotaRecord{}, 0)
	out, err := d.Relay(context.Background(), envelope("alice"), dec)
	require.NoError(t, err, "a deny never writes, so a broken backend is irrelevant")
	assert.False(t, out.Forwarded)
}

func TestRelay_StorageFailureOnWriteAborts(t *testing.T) {
	l := &failingLedger{QuotaLedger: ledger.NewMemory(), failSet: true}
	eng := mock.New()
	m := &recordingMeter{}
	d := newTestDispatcher(t, scenarioConfig(), l, eng, qr.NewManualCounter(0), qr.WithMeter(m))

	_, err := d.Submit(context.Background(), envelope("alice"))
	require.Error(t, err)
	assert.True(t, qr.IsStorageFailure(err))
	assert.ErrorIs(t, err, errBackendDown)

	var relayErr *qr.RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "ledger set", relayErr.Op)
	assert.Equal(t, qr.Account("alice"), relayErr.Account)

	assert.Equal(t, int64(0), eng.CallCount(), "nothing is forwarded without a committed record")
	assert.Empty(t, m.relayed)
}

func TestSubmit_StorageFailureOnRead(t *testing.T) {
	l := &failingLedger{QuotaLedger: ledger.NewMemory(), failGet: true}
	eng := mock.New()
	d := newTestDispatcher(t, scenarioConfig(), l, eng, qr.NewManualCounter(0))

	_, err := d.Submit(context.Background(), envelope("alice"))
	require.Error(t, err)
	assert.True(t, qr.IsStorageFailure(err))
	assert.Equal(t, int64(0), eng.CallCount())
}

func TestSubmit_CounterFailure(t *testing.T) {
	counterErr := errors.New("no block yet")
	counter := qr.CounterFunc(func(context.Context) (uint64, error) { return 0, counterErr })
	d := newTestDispatcher(t, scenarioConfig(), ledger.NewMemory(), mock.New(), counter)

	_, err := d.Submit(context.Background(), envelope("alice"))
	assert.ErrorIs(t, err, counterErr)
	assert.False(t, qr.IsStorageFailure(err))
}

func TestSubmit_RequiresAccount(t *testing.T) {
	d := newTestDispatcher(t, scenarioConfig(), ledger.NewMemory(), mock.New(), qr.NewManualCounter(0))

	_, err := d.Submit(context.Background(), envelope(""))
	assert.ErrorIs(t, err, qr.ErrNotAuthenticated)
}

func TestDenyEvents_Configurable(t *testing.T) {
	for _, emit := range []bool{false, true} {
		m := &recordingMeter{}
		cfg := scenarioConfig()
		cfg.MaxCalls = 1
		cfg.EmitDenyEvents = emit
		d := newTestDispatcher(t, cfg, ledger.NewMemory(), mock.New(), qr.NewManualCounter(0), qr.WithMeter(m))

		for i := 0; i < 3; i++ {
			_, err := d.Submit(context.Background(), envelope("alice"))
			require.NoError(t, err)
		}

		assert.Len(t, m.relayed, 1)
		if emit {
			require.Len(t, m.denied, 2)
			assert.Equal(t, qr.FeeReducedFixed, m.denied[0].Fee.Kind)
			assert.Equal(t, uint32(1), m.denied[0].Used)
			assert.Equal(t, "remark", m.denied[0].Call)
		} else {
			assert.Empty(t, m.denied)
		}
	}
}

func TestFeeTracker_FedByDispatcher(t *testing.T) {
	tr := qr.NewFeeTracker()
	fees := qr.FeeSchedule{BaseWeight: 1, ReadWeight: 10, DenyReads: 3}
	cfg := scenarioConfig()
	cfg.MaxCalls = 1
	d := newTestDispatcher(t, cfg, ledger.NewMemory(), mock.New(), qr.NewManualCounter(0),
		qr.WithFeeTracker(tr), qr.WithFeeSchedule(fees))

	for i := 0; i < 3; i++ {
		_, err := d.Submit(context.Background(), envelope("alice"))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(62), tr.Charged("alice", 0))
}

func TestConfigFees_UsedWhenSet(t *testing.T) {
	cfg := scenarioConfig()
	cfg.MaxCalls = 0
	cfg.Fees = &qr.FeeSchedule{BaseWeight: 7}
	d := newTestDispatcher(t, cfg, ledger.NewMemory(), mock.New(), qr.NewManualCounter(0))

	out, err := d.Submit(context.Background(), envelope("alice"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), out.Fee.Weight)
}

func TestConfigFees_ZeroScheduleChargesNothing(t *testing.T) {
	cfg := scenarioConfig()
	cfg.MaxCalls = 0
	cfg.Fees = &qr.FeeSchedule{}
	d := newTestDispatcher(t, cfg, ledger.NewMemory(), mock.New(), qr.NewManualCounter(0))

	out, err := d.Submit(context.Background(), envelope("alice"))
	require.NoError(t, err)
	assert.Equal(t, qr.FeeDisposition{Kind: qr.FeeReducedFixed, Weight: 0}, out.Fee)
}

func TestConfigFees_DefaultWhenUnset(t *testing.T) {
	cfg := scenarioConfig()
	cfg.MaxCalls = 0
	d := newTestDispatcher(t, cfg, ledger.NewMemory(), mock.New(), qr.NewManualCounter(0))

	out, err := d.Submit(context.Background(), envelope("alice"))
	require.NoError(t, err)
	assert.Equal(t, uint64(75_010_000), out.Fee.Weight)
}

func TestNewDispatcher_CopiesFees(t *testing.T) {
	cfg := scenarioConfig()
	cfg.MaxCalls = 0
	cfg.Fees = &qr.FeeSchedule{BaseWeight: 7}
	d := newTestDispatcher(t, cfg, ledger.NewMemory(), mock.New(), qr.NewManualCounter(0))

	cfg.Fees.BaseWeight = 99
	assert.Equal(t, uint64(7), d.Config().Fees.BaseWeight)
}

func TestSubmit_ConcurrentSameAccountNeverExceedsQuota(t *testing.T) {
	l := ledger.NewMemory()
	eng := mock.New()
	cfg := qr.Config{MaxCalls: 5, SessionLength: 1000}
	d := newTestDispatcher(t, cfg, l, eng, qr.NewManualCounter(0))

	var forwarded atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := d.Submit(context.Background(), envelope("alice"))
			if err == nil && out.Forwarded {
				forwarded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), forwarded.Load())
	assert.Equal(t, int64(5), eng.CallCount())
	rec, err := l.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), rec.Used)
}

func TestSubmit_AccountsAreIndependent(t *testing.T) {
	cfg := qr.Config{MaxCalls: 1, SessionLength: 1000}
	d := newTestDispatcher(t, cfg, ledger.NewMemory(), mock.New(), qr.NewManualCounter(0))
	ctx := context.Background()

	a, err := d.Submit(ctx, envelope("alice"))
	require.NoError(t, err)
	b, err := d.Submit(ctx, envelope("bob"))
	require.NoError(t, err)
	assert.True(t, a.Forwarded)
	assert.True(t, b.Forwarded)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestQuota_ReportsWithoutConsuming(t *testing.T) {
	l := ledger.NewMemory()
	counter := qr.NewManualCounter(1200)
	d := newTestDispatcher(t, scenarioConfig(), l, mock.New(), counter)
	ctx := context.Background()

	_, err := d.Submit(ctx, envelope("alice"))
	require.NoError(t, err)

	st, err := d.Quota(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, qr.QuotaStatus{
		Account:      "alice",
		Session:      1,
		Used:         1,
		Limit:        3,
		Remaining:    2,
		SessionStart: 1000,
		SessionEnd:   2000,
	}, st)

	// Reading twice does not change anything.
	st2, err := d.Quota(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, st, st2)

	// A stale record reads as unused.
	counter.Set(5000)
	st, err = d.Quota(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), st.Used)
	assert.Equal(t, uint32(3), st.Remaining)
}

func TestNewDispatcher_RejectsInvalidConfig(t *testing.T) {
	_, err := qr.NewDispatcher(qr.Config{MaxCalls: 3}, ledger.NewMemory(), mock.New(), qr.NewManualCounter(0))
	assert.ErrorIs(t, err, qr.ErrConfiguration)

	_, err = qr.NewDispatcher(scenarioConfig(), nil, mock.New(), qr.NewManualCounter(0))
	assert.ErrorIs(t, err, qr.ErrConfiguration)

	_, err = qr.NewDispatcher(scenarioConfig(), ledger.NewMemory(), nil, qr.NewManualCounter(0))
	assert.ErrorIs(t, err, qr.ErrConfiguration)

	_, err = qr.NewDispatcher(scenarioConfig(), ledger.NewMemory(), mock.New(), nil)
	assert.ErrorIs(t, err, qr.ErrConfiguration)
}

func TestDispatcher_ConfigIsACopy(t *testing.T) {
	cfg := scenarioConfig()
	d := newTestDispatcher(t, cfg, ledger.NewMemory(), mock.New(), qr.NewManualCounter(0))
	cfg.MaxCalls = 100
	assert.Equal(t, uint32(3), d.Config().MaxCalls)
}

func TestDispatcher_LogsStorageFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	l := &failingLedger{QuotaLedger: ledger.NewMemory(), failSet: true}
	d := newTestDispatcher(t, scenarioConfig(), l, mock.New(), qr.NewManualCounter(0), qr.WithLogger(logger))

	_, err := d.Submit(context.Background(), envelope("alice"))
	require.Error(t, err)
	assert.Contains(t, buf.String(), "ledger write failed")
	assert.Contains(t, buf.String(), "account=alice")
}
