package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alena-kono/ugc-service-2/internal/etl/checkpoint"
	"github.com/alena-kono/ugc-service-2/internal/etl/index"
	"github.com/alena-kono/ugc-service-2/internal/etl/notify"
	"github.com/alena-kono/ugc-service-2/pkg/config"
	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
	"github.com/alena-kono/ugc-service-2/pkg/health"
	"github.com/alena-kono/ugc-service-2/pkg/metrics"
	"github.com/alena-kono/ugc-service-2/pkg/resilience"
)

func fastBackoff(attempts, threshold int) config.BackoffConfig {
	return config.BackoffConfig{
		Base:        2,
		Factor:      time.Millisecond,
		MaxDelay:    time.Millisecond,
		MaxAttempts: attempts,
		Breaker:     config.BreakerConfig{FailureThreshold: threshold, ResetTimeout: time.Minute},
	}
}

func TestNewBackoffCountsRetries(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	b := NewBackoff(fastBackoff(5, 10), "postgres", m)
	calls := 0

	err := b.Do(context.Background(), "merge", func(context.Context) error {
		calls++
		if calls < 3 {
			return apperrors.Unavailable("fetch", errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("merge")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("postgres")))
}

func TestNewBackoffReportsOpenBreaker(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	b := NewBackoff(fastBackoff(1, 1), "elastic", m)

	err := b.Do(context.Background(), "bulk movies", func(context.Context) error {
		return apperrors.Unavailable("bulk", errors.New("503"))
	})

	require.ErrorIs(t, err, apperrors.ErrRetryExhausted)
	assert.Equal(t, resilience.StateOpen, b.Breaker().GetState())
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("elastic")))
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Checkpoint: config.CheckpointConfig{
			Backend:    config.CheckpointSQLite,
			Prefix:     "movies",
			SQLitePath: filepath.Join(t.TempDir(), "state", "checkpoint.db"),
		},
		Backoff: fastBackoff(2, 5),
	}
}

func TestOpenCheckpointSQLite(t *testing.T) {
	cp, err := OpenCheckpoint(sqliteConfig(t), nil)
	require.NoError(t, err)
	defer cp.Close()
	ctx := context.Background()

	assert.Equal(t, config.CheckpointSQLite, cp.Backend)
	require.NoError(t, cp.Ping(ctx))
	mark, err := cp.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Epoch, mark)

	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cp.Write(ctx, want))
	mark, err = cp.Read(ctx)
	require.NoError(t, err)
	assert.True(t, want.Equal(mark))
}

func TestOpenCheckpointUnknownBackend(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Checkpoint.Backend = "etcd"

	_, err := OpenCheckpoint(cfg, nil)

	assert.ErrorContains(t, err, "etcd")
}

func TestReadOnlyStoreDropsWrites(t *testing.T) {
	cp, err := OpenCheckpoint(sqliteConfig(t), nil)
	require.NoError(t, err)
	defer cp.Close()
	ctx := context.Background()
	stored := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cp.Write(ctx, stored))

	ro := readOnlyStore{Store: cp}
	require.NoError(t, ro.Write(ctx, stored.Add(time.Hour)))
	require.NoError(t, ro.Reset(ctx))

	mark, err := ro.Read(ctx)
	require.NoError(t, err)
	assert.True(t, stored.Equal(mark))
}

func TestNewNotifier(t *testing.T) {
	kafkaCfg := config.KafkaConfig{
		Enabled: true,
		Brokers: []string{"localhost:9092"},
		Topics:  config.KafkaTopics{SyncEvents: "etl.sync-events"},
	}

	n, closeFn := newNotifier(kafkaCfg, Options{DryRun: true})
	assert.IsType(t, notify.Nop{}, n)
	assert.NoError(t, closeFn())

	disabled := kafkaCfg
	disabled.Enabled = false
	n, closeFn = newNotifier(disabled, Options{})
	assert.IsType(t, notify.Nop{}, n)
	assert.NoError(t, closeFn())

	n, closeFn = newNotifier(kafkaCfg, Options{})
	assert.IsType(t, &notify.Kafka{}, n)
	assert.NoError(t, closeFn())
}

type refreshingIndex struct {
	*index.Memory
	refreshed []string
	err       error
}

func (r *refreshingIndex) Refresh(_ context.Context, names ...string) error {
	r.refreshed = append(r.refreshed, names...)
	return r.err
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	idx := &refreshingIndex{Memory: index.NewMemory()}

	require.NoError(t, refresh(ctx, idx, []string{"movies", "genres"}))
	assert.Equal(t, []string{"movies", "genres"}, idx.refreshed)

	idx.err = apperrors.Unavailable("refresh", errors.New("503"))
	assert.ErrorContains(t, refresh(ctx, idx, []string{"movies"}), "refreshing indexes")

	assert.NoError(t, refresh(ctx, index.NewMemory(), []string{"movies"}))
}

type brokenStore struct {
	checkpoint.Store
}

func (brokenStore) Read(context.Context) (time.Time, error) {
	return time.Time{}, apperrors.ErrCircuitOpen
}

func TestWatermarkCheckBypassesRetries(t *testing.T) {
	cp, err := OpenCheckpoint(sqliteConfig(t), nil)
	require.NoError(t, err)
	defer cp.Close()
	ctx := context.Background()
	require.NoError(t, cp.Write(ctx, time.Now().UTC()))

	cp.Store = brokenStore{Store: cp.Store}
	report := cp.WatermarkCheck(time.Minute)(ctx)

	assert.Equal(t, health.StatusUp, report.Status)

	require.NoError(t, cp.raw.Write(ctx, time.Now().Add(-time.Hour)))
	assert.Equal(t, health.StatusDegraded, cp.WatermarkCheck(time.Minute)(ctx).Status)
}
