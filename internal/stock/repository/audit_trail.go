package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
)

// Audit actions
const (
	AuditActionBatchCreated          = "BATCH_CREATED"
	AuditActionBatchUpdated          = "BATCH_UPDATED"
	AuditActionMovementRecorded      = "MOVEMENT_RECORDED"
	AuditActionInventoryAdjusted     = "INVENTORY_ADJUSTED"
	AuditActionTransformationCreated = "TRANSFORMATION_CREATED"
	AuditActionTransformationClosed  = "TRANSFORMATION_CLOSED"
)

// AuditMetadata is the versioned, typed payload stored with each audit
// entry. Quantities are serialized as decimal strings. SchemaVersion lets
// readers evolve with old rows still in the table.
type AuditMetadata struct {
	SchemaVersion      int    `json:"schema_version"`
	RequestID          string `json:"request_id,omitempty"`
	ProductSKU         string `json:"product_sku,omitempty"`
	BatchNumber        string `json:"batch_number,omitempty"`
	MovementType       string `json:"movement_type,omitempty"`
	TransformationType string `json:"transformation_type,omitempty"`
	FromLocationID     string `json:"from_location_id,omitempty"`
	ToLocationID       string `json:"to_location_id,omitempty"`
	Quantity           string `json:"quantity,omitempty"`
	QuantityBefore     string `json:"quantity_before,omitempty"`
	QuantityAfter      string `json:"quantity_after,omitempty"`
	Reason             string `json:"reason,omitempty"`
}

const auditMetadataSchemaVersion = 1

// AuditEntry is one row of the operation audit trail
type AuditEntry struct {
	ID              string          `db:"id" json:"id"`
	EntityType      string          `db:"entity_type" json:"entity_type"`
	EntityID        string          `db:"entity_id" json:"entity_id"`
	Action          string          `db:"action" json:"action"`
	Metadata        json.RawMessage `db:"metadata" json:"metadata"`
	PerformedBy     string          `db:"performed_by" json:"performed_by"`
	PerformedByName *string         `db:"performed_by_name" json:"performed_by_name,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// AuditTrailRepository handles audit trail persistence
type AuditTrailRepository struct {
	q database.Queryer
}

// NewAuditTrailRepository creates a new audit trail repository
func NewAuditTrailRepository(q database.Queryer) *AuditTrailRepository {
	return &AuditTrailRepository{q: q}
}

// Record appends one audit entry
func (r *AuditTrailRepository) Record(ctx context.Context, entityType, entityID, action string, metadata AuditMetadata, performedBy string, performedByName *string) error {
	metadata.SchemaVersion = auditMetadataSchemaVersion
	payload, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_trail (id, entity_type, entity_id, action, metadata, performed_by, performed_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.q.ExecContext(ctx, query,
		uuid.New().String(), entityType, entityID, action, payload, performedBy, performedByName)
	return err
}

// ListByEntity lists audit entries for one entity, newest first
func (r *AuditTrailRepository) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	query := `
		SELECT id, entity_type, entity_id, action, metadata, performed_by, performed_by_name, created_at
		FROM audit_trail
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	if err := r.q.SelectContext(ctx, &entries, query, entityType, entityID, limit); err != nil {
		return nil, err
	}
	return entries, nil
}
