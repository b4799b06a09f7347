package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_non_negative"):
		// Conditional updates should catch this first; the constraint only
		// fires on a write that skipped them.
		return errors.InsufficientQuantity("requested", "available")

	case strings.Contains(constraint, "current_within_initial"):
		return errors.Validation(map[string]string{
			"current_quantity": "must not exceed initial_quantity",
		})

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: INTACT, CUT, REPACKED, EMPTY, DAMAGED, QUARANTINE",
		})

	case strings.Contains(constraint, "movement_type_valid"):
		return errors.Validation(map[string]string{
			"movement_type": "must be one of: TRANSFER, INBOUND, OUTBOUND, ADJUSTMENT",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "batch_number"):
		return "a batch with this batch number already exists"
	case strings.Contains(constraint, "transformation_number"):
		return "a transformation with this number already exists"
	case strings.Contains(constraint, "sku"):
		return "a product with this SKU already exists"
	default:
		return "a record with these values already exists"
	}
}
