package notifications

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bopmarket/backend/pkg/db/models"
	"github.com/bopmarket/backend/pkg/enums"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/mailer"
	"github.com/bopmarket/backend/pkg/outbox"
)

type recordingMailer struct {
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mailer.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newDispatcherFixture(t *testing.T) (*Dispatcher, *gorm.DB, *recordingMailer, *outbox.Service) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Notification{}, &models.OutboxEvent{}))

	logg := logger.New(logger.Options{ServiceName: "dispatch-test", Output: io.Discard})
	events := outbox.NewRepository(conn)
	mail := &recordingMailer{}

	dispatcher, err := NewDispatcher(DispatcherParams{
		Events: events,
		Repo:   NewRepository(conn),
		Mailer: mail,
		Logger: logg,
	})
	require.NoError(t, err)
	return dispatcher, conn, mail, outbox.NewService(events, logg)
}

func emit(t *testing.T, db *gorm.DB, svc *outbox.Service, event outbox.DomainEvent) {
	t.Helper()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, event)
	}))
}

func TestDispatchOrderPlaced(t *testing.T) {
	dispatcher, db, mail, events := newDispatcherFixture(t)
	ctx := context.Background()

	buyerID := uuid.New()
	sellerID := uuid.New()
	emit(t, db, events, outbox.DomainEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data: map[string]any{
			"order_id":   uuid.NewString(),
			"store_name": "Lagos Vinyl",
			"buyer_id":   buyerID.String(),
			"seller_id":  sellerID.String(),
			"email":      "buyer@example.com",
			"reference":  "BOP_1_x",
			"total":      650000,
		},
	})

	handled, err := dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, handled)

	var rows []models.Notification
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 2)

	byUser := map[uuid.UUID]models.Notification{}
	for _, row := range rows {
		byUser[row.UserID] = row
	}
	require.Contains(t, byUser[buyerID].Body, "Lagos Vinyl")
	require.Equal(t, enums.NotificationOrderPlaced, byUser[sellerID].Type)

	require.Len(t, mail.sent, 1)
	require.Equal(t, "buyer@example.com", mail.sent[0].To)

	var event models.OutboxEvent
	require.NoError(t, db.First(&event).Error)
	require.NotNil(t, event.PublishedAt)
}

func TestDispatchSkipsNonNotificationEvents(t *testing.T) {
	dispatcher, db, mail, events := newDispatcherFixture(t)

	emit(t, db, events, outbox.DomainEvent{
		EventType:     enums.EventEscrowCreated,
		AggregateType: enums.AggregateEscrow,
		AggregateID:   uuid.New(),
		Data:          map[string]any{"escrow_id": uuid.NewString()},
	})

	handled, err := dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, handled)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.Zero(t, count)
	require.Empty(t, mail.sent)

	var event models.OutboxEvent
	require.NoError(t, db.First(&event).Error)
	require.NotNil(t, event.PublishedAt, "uninteresting events still leave the queue")
}

func TestDispatchFailureIncrementsAttempts(t *testing.T) {
	dispatcher, db, mail, events := newDispatcherFixture(t)
	mail.err = fmt.Errorf("smtp unreachable")

	emit(t, db, events, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePaymentSession,
		AggregateID:   uuid.New(),
		Data: map[string]any{
			"user_id": uuid.NewString(),
			"email":   "buyer@example.com",
			"reason":  "card declined",
		},
	})

	_, err := dispatcher.RunOnce(context.Background())
	require.NoError(t, err, "per-event failures are contained")

	var event models.OutboxEvent
	require.NoError(t, db.First(&event).Error)
	require.Nil(t, event.PublishedAt)
	require.Equal(t, 1, event.AttemptCount)
	require.NotNil(t, event.LastError)

	// Retry succeeds once the mailer recovers.
	mail.err = nil
	_, err = dispatcher.RunOnce(context.Background())
	require.NoError(t, err)

	require.NoError(t, db.First(&event).Error)
	require.NotNil(t, event.PublishedAt)
	require.Len(t, mail.sent, 1)
}

func TestDispatchEscrowDisputedNotifiesBothParties(t *testing.T) {
	dispatcher, db, _, events := newDispatcherFixture(t)

	buyerID := uuid.New()
	sellerID := uuid.New()
	emit(t, db, events, outbox.DomainEvent{
		EventType:     enums.EventEscrowDisputed,
		AggregateType: enums.AggregateEscrow,
		AggregateID:   uuid.New(),
		Data: map[string]any{
			"buyer_id":  buyerID.String(),
			"seller_id": sellerID.String(),
			"amount":    500000,
		},
	})

	_, err := dispatcher.RunOnce(context.Background())
	require.NoError(t, err)

	var rows []models.Notification
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 2)
}
