package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func candidateBatch(id string, current string, receivedAt time.Time, locationID *string) *repository.Batch {
	return &repository.Batch{
		ID:              id,
		BatchNumber:     "B-20250101-" + id,
		ProductSKU:      "CABLE-001",
		UnitID:          repository.UnitDrum,
		InitialQuantity: dec(current),
		CurrentQuantity: dec(current),
		Status:          repository.BatchStatusIntact,
		LocationID:      locationID,
		ReceivedAt:      receivedAt,
	}
}

func TestRankCandidates_FIFO(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
	}
	batches := []*repository.Batch{
		candidateBatch("newest", "500", day(10), nil),
		candidateBatch("oldest", "80", day(1), nil),
		candidateBatch("middle", "200", day(5), nil),
		candidateBatch("too-small", "10", day(2), nil),
	}

	ranked := rankCandidates(batches, dec("50"), SelectionMethodFIFO, nil, nil)

	require.Len(t, ranked, 3, "the 10m batch cannot cover 50m")
	assert.Equal(t, "oldest", ranked[0].Batch.ID)
	assert.Equal(t, "middle", ranked[1].Batch.ID)
	assert.Equal(t, "newest", ranked[2].Batch.ID)
	assert.True(t, ranked[0].WasteQuantity.Equal(dec("30")))
}

func TestRankCandidates_MinWaste(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
	}
	batches := []*repository.Batch{
		candidateBatch("big", "500", day(1), nil),
		candidateBatch("exact", "50", day(9), nil),
		candidateBatch("close", "55", day(2), nil),
	}

	ranked := rankCandidates(batches, dec("50"), SelectionMethodMinWaste, nil, nil)

	require.Len(t, ranked, 3)
	assert.Equal(t, "exact", ranked[0].Batch.ID)
	assert.True(t, ranked[0].PerfectMatch)
	assert.True(t, ranked[0].WasteQuantity.IsZero())
	assert.Equal(t, "close", ranked[1].Batch.ID)
	assert.False(t, ranked[1].PerfectMatch)
	assert.Equal(t, "big", ranked[2].Batch.ID)
}

func TestRankCandidates_MinWaste_TieBreaksOnReceipt(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
	}
	batches := []*repository.Batch{
		candidateBatch("later", "60", day(8), nil),
		candidateBatch("earlier", "60", day(3), nil),
	}

	ranked := rankCandidates(batches, dec("50"), SelectionMethodMinWaste, nil, nil)

	require.Len(t, ranked, 2)
	assert.Equal(t, "earlier", ranked[0].Batch.ID)
}

func TestRankCandidates_LocationProximity(t *testing.T) {
	zoneA := "zone-a"
	zoneB := "zone-b"
	preferred := &repository.Location{ID: "loc-pref", WarehouseID: "wh-1", ZoneID: &zoneA}

	active := repository.LocationStatusActive
	locSameZone := "loc-same-zone"
	locSameWarehouse := "loc-same-wh"
	locOther := "loc-other"
	locations := map[string]*repository.Location{
		locSameZone:      {ID: locSameZone, WarehouseID: "wh-1", ZoneID: &zoneA, Status: active},
		locSameWarehouse: {ID: locSameWarehouse, WarehouseID: "wh-1", ZoneID: &zoneB, Status: active},
		locOther:         {ID: locOther, WarehouseID: "wh-2", ZoneID: nil, Status: active},
	}

	day := func(d int) time.Time {
		return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
	}
	batches := []*repository.Batch{
		candidateBatch("far", "55", day(1), &locOther),
		candidateBatch("same-warehouse", "55", day(2), &locSameWarehouse),
		candidateBatch("same-zone-big", "500", day(3), &locSameZone),
		candidateBatch("same-zone-snug", "60", day(4), &locSameZone),
		candidateBatch("nowhere", "55", day(5), nil),
	}

	ranked := rankCandidates(batches, dec("50"), SelectionMethodLocationProximity, preferred, locations)

	require.Len(t, ranked, 5)
	// Within the same-zone tier, smaller waste wins even though it arrived later.
	assert.Equal(t, "same-zone-snug", ranked[0].Batch.ID)
	assert.Equal(t, "same-zone-big", ranked[1].Batch.ID)
	assert.Equal(t, "same-warehouse", ranked[2].Batch.ID)
	assert.Equal(t, "far", ranked[3].Batch.ID)
	assert.Equal(t, "nowhere", ranked[4].Batch.ID)
}

func TestRankCandidates_LocationProximity_InactiveLocationRanksLast(t *testing.T) {
	zoneA := "zone-a"
	preferred := &repository.Location{ID: "loc-pref", WarehouseID: "wh-1", ZoneID: &zoneA}

	locRetired := "loc-retired"
	locFar := "loc-far"
	locations := map[string]*repository.Location{
		locRetired: {ID: locRetired, WarehouseID: "wh-1", ZoneID: &zoneA, Status: repository.LocationStatusInactive},
		locFar:     {ID: locFar, WarehouseID: "wh-2", Status: repository.LocationStatusActive},
	}

	day := func(d int) time.Time {
		return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
	}
	batches := []*repository.Batch{
		candidateBatch("on-retired-rack", "55", day(1), &locRetired),
		candidateBatch("far-but-active", "55", day(2), &locFar),
	}

	ranked := rankCandidates(batches, dec("50"), SelectionMethodLocationProximity, preferred, locations)

	require.Len(t, ranked, 2)
	// An inactive location no longer counts as close, even in the right zone.
	assert.Equal(t, "far-but-active", ranked[0].Batch.ID)
	assert.Equal(t, "on-retired-rack", ranked[1].Batch.ID)
}

func TestRankCandidates_NoQualifyingBatch(t *testing.T) {
	batches := []*repository.Batch{
		candidateBatch("a", "10", time.Now(), nil),
		candidateBatch("b", "30", time.Now(), nil),
	}

	ranked := rankCandidates(batches, dec("100"), SelectionMethodFIFO, nil, nil)
	assert.Empty(t, ranked, "partial coverage must not be offered as a match")
}

func TestRankCandidates_WastePercent(t *testing.T) {
	batches := []*repository.Batch{
		candidateBatch("a", "200", time.Now(), nil),
	}

	ranked := rankCandidates(batches, dec("50"), SelectionMethodMinWaste, nil, nil)

	require.Len(t, ranked, 1)
	assert.True(t, ranked[0].WasteQuantity.Equal(dec("150")))
	assert.True(t, ranked[0].WastePercent.Equal(dec("75")), "got %s", ranked[0].WastePercent)
}
