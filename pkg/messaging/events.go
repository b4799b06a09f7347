package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	// Stock events
	EventStockMovementRecorded = "stock.movement.recorded"
	EventStockAdjusted         = "stock.adjusted"
	EventBatchCreated          = "stock.batch.created"
	EventBatchStatusChanged    = "stock.batch.status_changed"
	EventTransformationCreated = "stock.transformation.created"
	EventTransformationClosed  = "stock.transformation.closed"

	// Warehouse configuration events (published by the config service,
	// consumed here to maintain the local location cache)
	EventLocationCreated = "config.location.created"
	EventLocationUpdated = "config.location.updated"
	EventLocationDeleted = "config.location.deleted"
)

// Exchange names
const (
	ExchangeStockEvents  = "stock.events"
	ExchangeConfigEvents = "config.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock events

// MovementRecordedEvent is published when a ledger movement is recorded
type MovementRecordedEvent struct {
	MovementID   string `json:"movement_id"`
	MovementType string `json:"movement_type"`
	ProductSKU   string `json:"product_sku"`
	FromLocation string `json:"from_location,omitempty"`
	ToLocation   string `json:"to_location,omitempty"`
	Quantity     string `json:"quantity"`
	LotNumber    string `json:"lot_number,omitempty"`
	PerformedBy  string `json:"performed_by"`
}

// StockAdjustedEvent is published when inventory is set to an absolute value
type StockAdjustedEvent struct {
	ProductSKU  string `json:"product_sku"`
	LocationID  string `json:"location_id"`
	LotNumber   string `json:"lot_number,omitempty"`
	OldQuantity string `json:"old_quantity"`
	NewQuantity string `json:"new_quantity"`
	Reason      string `json:"reason,omitempty"`
	PerformedBy string `json:"performed_by"`
}

// BatchCreatedEvent is published when a batch enters the system
type BatchCreatedEvent struct {
	BatchID         string `json:"batch_id"`
	BatchNumber     string `json:"batch_number"`
	ProductSKU      string `json:"product_sku"`
	UnitID          string `json:"unit_id"`
	InitialQuantity string `json:"initial_quantity"`
	LocationID      string `json:"location_id,omitempty"`
	SourceBatchID   string `json:"source_batch_id,omitempty"`
}

// BatchStatusChangedEvent is published when a batch transitions status
type BatchStatusChangedEvent struct {
	BatchID   string `json:"batch_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// TransformationCreatedEvent is published when a transformation is committed
type TransformationCreatedEvent struct {
	TransformationID     string `json:"transformation_id"`
	TransformationNumber string `json:"transformation_number"`
	TransformationType   string `json:"transformation_type"`
	SourceBatchID        string `json:"source_batch_id"`
	SourceQuantityUsed   string `json:"source_quantity_used"`
	ResultBatchID        string `json:"result_batch_id,omitempty"`
	ResultQuantity       string `json:"result_quantity,omitempty"`
	WasteQuantity        string `json:"waste_quantity,omitempty"`
	PerformedBy          string `json:"performed_by"`
}

// TransformationClosedEvent is published when a pending transformation gets
// its result back-filled or is explicitly closed without output
type TransformationClosedEvent struct {
	TransformationID string `json:"transformation_id"`
	ResultState      string `json:"result_state"`
	ResultBatchID    string `json:"result_batch_id,omitempty"`
	ResultQuantity   string `json:"result_quantity,omitempty"`
	WasteQuantity    string `json:"waste_quantity,omitempty"`
}

// Configuration events (consumed)

// LocationUpsertedEvent carries the location snapshot published by the
// warehouse configuration service on create/update
type LocationUpsertedEvent struct {
	LocationID  string `json:"location_id"`
	WarehouseID string `json:"warehouse_id"`
	ZoneID      string `json:"zone_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Status      string `json:"status"`
}

// LocationDeletedEvent is consumed when a location is removed from configuration
type LocationDeletedEvent struct {
	LocationID string `json:"location_id"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
