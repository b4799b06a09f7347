package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
)

// Selection methods
const (
	SelectionMethodFIFO              = "FIFO"
	SelectionMethodMinWaste          = "MIN_WASTE"
	SelectionMethodLocationProximity = "LOCATION_PROXIMITY"
)

const maxAlternatives = 5

// SelectionCandidate is one ranked batch with its waste projection
type SelectionCandidate struct {
	Batch         *repository.Batch `json:"batch"`
	WasteQuantity decimal.Decimal   `json:"waste_quantity"`
	WastePercent  decimal.Decimal   `json:"waste_percent"`
	PerfectMatch  bool              `json:"perfect_match"`
}

// SelectionResult is the engine's recommendation. It is a suggestion only:
// nothing is reserved, and the pick stays valid only until somebody commits
// a transformation against the batch.
type SelectionResult struct {
	SelectedBatch *SelectionCandidate   `json:"selected_batch"`
	Alternatives  []*SelectionCandidate `json:"alternatives"`
	Method        string                `json:"method"`
}

// SelectionService recommends the best batch for a required quantity.
// All operations are read-only and take no locks.
type SelectionService struct {
	batches   *repository.BatchRepository
	locations *repository.LocationRepository
	logger    *logger.Logger
}

// NewSelectionService creates a new selection service
func NewSelectionService(db *database.DB, log *logger.Logger) *SelectionService {
	return &SelectionService{
		batches:   repository.NewBatchRepository(db),
		locations: repository.NewLocationRepository(db),
		logger:    log.WithComponent("selection_service"),
	}
}

// SelectInput carries a selection request
type SelectInput struct {
	ProductSKU          string
	RequiredQuantity    decimal.Decimal
	Method              string
	PreferredLocationID string
}

// Select ranks the INTACT batches of a product that can cover the required
// quantity and returns the best pick plus up to five alternatives.
func (s *SelectionService) Select(ctx context.Context, input SelectInput) (*SelectionResult, error) {
	if input.Method == "" {
		input.Method = SelectionMethodFIFO
	}
	switch input.Method {
	case SelectionMethodFIFO, SelectionMethodMinWaste, SelectionMethodLocationProximity:
	default:
		return nil, errors.BadRequest("unknown selection method: " + input.Method)
	}
	if !input.RequiredQuantity.IsPositive() {
		return nil, errors.BadRequest("required_quantity must be positive")
	}
	if input.Method == SelectionMethodLocationProximity && input.PreferredLocationID == "" {
		return nil, errors.BadRequest("location proximity selection requires preferred_location_id")
	}

	candidates, err := s.batches.ListCandidates(ctx, input.ProductSKU)
	if err != nil {
		return nil, err
	}

	var preferred *repository.Location
	var locations map[string]*repository.Location
	if input.Method == SelectionMethodLocationProximity {
		preferred, err = s.locations.GetByID(ctx, input.PreferredLocationID)
		if err != nil {
			return nil, err
		}
		locations, err = s.locationIndex(ctx)
		if err != nil {
			return nil, err
		}
	}

	ranked := rankCandidates(candidates, input.RequiredQuantity, input.Method, preferred, locations)
	if len(ranked) == 0 {
		return nil, errors.NoSuitableBatch(input.ProductSKU, input.RequiredQuantity.String())
	}

	result := &SelectionResult{
		SelectedBatch: ranked[0],
		Alternatives:  ranked[1:],
		Method:        input.Method,
	}
	if len(result.Alternatives) > maxAlternatives {
		result.Alternatives = result.Alternatives[:maxAlternatives]
	}
	return result, nil
}

func (s *SelectionService) locationIndex(ctx context.Context) (map[string]*repository.Location, error) {
	locs, err := s.locations.List(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*repository.Location, len(locs))
	for _, loc := range locs {
		index[loc.ID] = loc
	}
	return index, nil
}

// rankCandidates filters batches that can cover the required quantity and
// orders them by the given method. It is a pure function so the ranking
// rules are testable without a store.
func rankCandidates(batches []*repository.Batch, required decimal.Decimal, method string, preferred *repository.Location, locations map[string]*repository.Location) []*SelectionCandidate {
	qualifying := make([]*SelectionCandidate, 0, len(batches))
	for _, b := range batches {
		if b.CurrentQuantity.LessThan(required) {
			continue
		}
		waste := b.CurrentQuantity.Sub(required)
		qualifying = append(qualifying, &SelectionCandidate{
			Batch:         b,
			WasteQuantity: waste,
			WastePercent:  wastePercent(waste, b.CurrentQuantity),
			PerfectMatch:  waste.IsZero(),
		})
	}

	switch method {
	case SelectionMethodMinWaste:
		sort.SliceStable(qualifying, func(i, j int) bool {
			if !qualifying[i].WasteQuantity.Equal(qualifying[j].WasteQuantity) {
				return qualifying[i].WasteQuantity.LessThan(qualifying[j].WasteQuantity)
			}
			return qualifying[i].Batch.ReceivedAt.Before(qualifying[j].Batch.ReceivedAt)
		})
	case SelectionMethodLocationProximity:
		sort.SliceStable(qualifying, func(i, j int) bool {
			ti := proximityTier(qualifying[i].Batch, preferred, locations)
			tj := proximityTier(qualifying[j].Batch, preferred, locations)
			if ti != tj {
				return ti < tj
			}
			if !qualifying[i].WasteQuantity.Equal(qualifying[j].WasteQuantity) {
				return qualifying[i].WasteQuantity.LessThan(qualifying[j].WasteQuantity)
			}
			return qualifying[i].Batch.ReceivedAt.Before(qualifying[j].Batch.ReceivedAt)
		})
	default: // FIFO; candidate set arrives ordered by received_at
		sort.SliceStable(qualifying, func(i, j int) bool {
			return qualifying[i].Batch.ReceivedAt.Before(qualifying[j].Batch.ReceivedAt)
		})
	}
	return qualifying
}

// proximityTier scores distance from the preferred location: same zone is
// closest, then same warehouse, then everything else. Batches with no
// location, an unknown location, or an inactive one sort last.
func proximityTier(b *repository.Batch, preferred *repository.Location, locations map[string]*repository.Location) int {
	if b.LocationID == nil || preferred == nil {
		return 3
	}
	loc, ok := locations[*b.LocationID]
	if !ok || loc.Status != repository.LocationStatusActive {
		return 3
	}
	if loc.ID == preferred.ID {
		return 0
	}
	if loc.ZoneID != nil && preferred.ZoneID != nil && *loc.ZoneID == *preferred.ZoneID {
		return 0
	}
	if loc.WarehouseID == preferred.WarehouseID {
		return 1
	}
	return 2
}

func wastePercent(waste, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return waste.Div(total).Mul(decimal.NewFromInt(100)).Round(2)
}
