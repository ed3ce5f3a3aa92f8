package cron

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bopmarket/backend/internal/payments"
	dbpkg "github.com/bopmarket/backend/pkg/db"
	"github.com/bopmarket/backend/pkg/db/models"
	"github.com/bopmarket/backend/pkg/enums"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/outbox"
	"github.com/bopmarket/backend/pkg/types"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func newJobDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.PaymentSession{}, &models.OutboxEvent{}))
	return conn
}

func seedSession(t *testing.T, db *gorm.DB, status enums.PaymentSessionStatus, expiresAt time.Time) *models.PaymentSession {
	t.Helper()
	session := &models.PaymentSession{
		Reference:   payments.NewReference("BOP", time.Now()),
		UserID:      uuid.New(),
		Status:      status,
		AmountCents: 100000,
		Currency:    enums.CurrencyNGN,
		Plan:        types.OrderPlan{Email: "buyer@example.com"},
		ExpiresAt:   expiresAt,
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

func TestSessionExpiryJobSweepsLapsedPending(t *testing.T) {
	db := newJobDB(t)
	logg := testLogger()
	ctx := context.Background()

	now := time.Now().UTC()
	stale := seedSession(t, db, enums.PaymentSessionPending, now.Add(-time.Minute))
	fresh := seedSession(t, db, enums.PaymentSessionPending, now.Add(time.Hour))
	done := seedSession(t, db, enums.PaymentSessionCompleted, now.Add(-time.Minute))

	job, err := NewSessionExpiryJob(SessionExpiryJobParams{
		Logger:   logg,
		DB:       dbpkg.NewWithConn(db),
		Sessions: payments.NewRepository(db),
		Outbox:   outbox.NewService(outbox.NewRepository(db), logg),
	})
	require.NoError(t, err)
	require.Equal(t, "session-expiry", job.Name())
	require.NoError(t, job.Run(ctx))

	// Fresh structs per lookup: a loaded primary key would otherwise leak
	// into the next query's conditions.
	var swept models.PaymentSession
	require.NoError(t, db.First(&swept, "reference = ?", stale.Reference).Error)
	require.Equal(t, enums.PaymentSessionExpired, swept.Status)

	var untouched models.PaymentSession
	require.NoError(t, db.First(&untouched, "reference = ?", fresh.Reference).Error)
	require.Equal(t, enums.PaymentSessionPending, untouched.Status)

	var completed models.PaymentSession
	require.NoError(t, db.First(&completed, "reference = ?", done.Reference).Error)
	require.Equal(t, enums.PaymentSessionCompleted, completed.Status)

	var events []models.OutboxEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, enums.EventPaymentExpired, events[0].EventType)

	// Re-running the sweep emits nothing new.
	require.NoError(t, job.Run(ctx))
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
}

type stubRetentionRepo struct {
	cutoff  time.Time
	deleted int64
}

func (s *stubRetentionRepo) DeletePublishedBefore(cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.deleted, nil
}

func TestOutboxRetentionJobUsesRetentionWindow(t *testing.T) {
	repo := &stubRetentionRepo{deleted: 7}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:        testLogger(),
		Repository:    repo,
		RetentionDays: 3,
	})
	require.NoError(t, err)
	require.Equal(t, "outbox-retention", job.Name())
	require.NoError(t, job.Run(context.Background()))

	expected := time.Now().UTC().Add(-3 * 24 * time.Hour)
	require.WithinDuration(t, expected, repo.cutoff, time.Minute)
}

type fakeLock struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) {
	l.acquired++
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.released++
	l.held = false
	return nil
}

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func TestServiceRunCycleRunsAllJobs(t *testing.T) {
	lock := &fakeLock{}
	first := &countingJob{name: "first"}
	second := &countingJob{name: "second", err: fmt.Errorf("boom")}
	third := &countingJob{name: "third"}

	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(first, second, third),
		Lock:     lock,
	})
	require.NoError(t, err)

	require.NoError(t, svc.runCycle(context.Background()))
	require.Equal(t, 1, first.runs)
	require.Equal(t, 1, second.runs)
	require.Equal(t, 1, third.runs, "a failing job must not stop the cycle")
	require.Equal(t, 1, lock.released)
}

func TestServiceRunCycleSkipsWhenLockHeld(t *testing.T) {
	lock := &fakeLock{held: true}
	job := &countingJob{name: "only"}

	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	require.NoError(t, err)

	require.NoError(t, svc.runCycle(context.Background()))
	require.Zero(t, job.runs)
	require.Zero(t, lock.released)
}
