package events

import (
	"context"

	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/messaging"
)

// StockEventPublisher publishes stock domain events. A nil receiver is
// valid and drops every publish, so the service layer never has to check
// whether messaging is configured.
type StockEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a publisher on the stock events exchange
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}
	return &StockEventPublisher{publisher: publisher, logger: log}, nil
}

func (p *StockEventPublisher) publish(ctx context.Context, eventType string, data interface{}) {
	if p == nil || p.publisher == nil {
		return
	}
	// Events are best-effort: the transaction already committed, so a
	// broker failure must not fail the request.
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.WithError(err).Warn().Str("event_type", eventType).Msg("Failed to publish event")
	}
}

// MovementRecorded publishes a movement ledger event
func (p *StockEventPublisher) MovementRecorded(ctx context.Context, event messaging.MovementRecordedEvent) {
	p.publish(ctx, messaging.EventStockMovementRecorded, event)
}

// StockAdjusted publishes an absolute adjustment event
func (p *StockEventPublisher) StockAdjusted(ctx context.Context, event messaging.StockAdjustedEvent) {
	p.publish(ctx, messaging.EventStockAdjusted, event)
}

// BatchCreated publishes a batch creation event
func (p *StockEventPublisher) BatchCreated(ctx context.Context, event messaging.BatchCreatedEvent) {
	p.publish(ctx, messaging.EventBatchCreated, event)
}

// BatchStatusChanged publishes a batch status transition event
func (p *StockEventPublisher) BatchStatusChanged(ctx context.Context, event messaging.BatchStatusChangedEvent) {
	p.publish(ctx, messaging.EventBatchStatusChanged, event)
}

// TransformationCreated publishes a transformation commit event
func (p *StockEventPublisher) TransformationCreated(ctx context.Context, event messaging.TransformationCreatedEvent) {
	p.publish(ctx, messaging.EventTransformationCreated, event)
}

// TransformationClosed publishes a transformation close event
func (p *StockEventPublisher) TransformationClosed(ctx context.Context, event messaging.TransformationClosedEvent) {
	p.publish(ctx, messaging.EventTransformationClosed, event)
}
