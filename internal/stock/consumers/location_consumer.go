package consumers

import (
	"context"

	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/messaging"
)

const locationQueueName = "stock-service.location-sync"

// LocationConsumer keeps the local location read model in sync with the
// warehouse configuration service. Deletes only mark rows inactive; batches
// and movements keep resolving historical locations.
type LocationConsumer struct {
	consumer  *messaging.Consumer
	locations *repository.LocationRepository
	logger    *logger.Logger
}

// NewLocationConsumer creates a consumer bound to the configuration events exchange
func NewLocationConsumer(rmq *messaging.RabbitMQ, db *database.DB, log *logger.Logger) (*LocationConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, locationQueueName, log)
	if err != nil {
		return nil, err
	}
	if err := consumer.Subscribe(messaging.ExchangeConfigEvents, "config.location.*"); err != nil {
		return nil, err
	}

	c := &LocationConsumer{
		consumer:  consumer,
		locations: repository.NewLocationRepository(db),
		logger:    log.WithComponent("location_consumer"),
	}
	consumer.RegisterHandler(messaging.EventLocationCreated, c.handleUpserted)
	consumer.RegisterHandler(messaging.EventLocationUpdated, c.handleUpserted)
	consumer.RegisterHandler(messaging.EventLocationDeleted, c.handleDeleted)
	return c, nil
}

// Start begins consuming; blocks until the context is cancelled
func (c *LocationConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *LocationConsumer) handleUpserted(ctx context.Context, event *messaging.Event) error {
	var payload messaging.LocationUpsertedEvent
	if err := event.UnmarshalData(&payload); err != nil {
		return err
	}

	loc := &repository.Location{
		ID:          payload.LocationID,
		Code:        payload.Code,
		Name:        payload.Name,
		WarehouseID: payload.WarehouseID,
		Status:      payload.Status,
	}
	if loc.Status == "" {
		loc.Status = repository.LocationStatusActive
	}
	if payload.ZoneID != "" {
		loc.ZoneID = &payload.ZoneID
	}

	if err := c.locations.Upsert(ctx, loc); err != nil {
		return err
	}
	c.logger.Debug().Str("location_id", loc.ID).Str("code", loc.Code).Msg("Location synced")
	return nil
}

func (c *LocationConsumer) handleDeleted(ctx context.Context, event *messaging.Event) error {
	var payload messaging.LocationDeletedEvent
	if err := event.UnmarshalData(&payload); err != nil {
		return err
	}

	if err := c.locations.MarkInactive(ctx, payload.LocationID); err != nil {
		return err
	}
	c.logger.Info().Str("location_id", payload.LocationID).Msg("Location marked inactive")
	return nil
}
