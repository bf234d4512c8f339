package shipment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refurbline/internal/domain"
	"refurbline/internal/shipment"
)

func unit(id string, cat domain.Category, brand, model string) domain.MatchedUnit {
	return domain.MatchedUnit{DeviceID: id, Barcode: "BC-" + id, Category: cat, Brand: brand, Model: model}
}

func TestMatchPartialWithMissingAndExtra(t *testing.T) {
	expected := []domain.ExpectedItem{{Category: domain.CategoryLaptop, Brand: "Dell", Model: "Latitude7490", Quantity: 3}}
	received := []domain.MatchedUnit{
		unit("d1", domain.CategoryLaptop, "Dell", "Latitude7490"),
		unit("d2", domain.CategoryDesktop, "HP", "EliteDesk"),
		unit("d3", domain.CategoryLaptop, "Dell", "Latitude7490"),
	}

	res := shipment.Match(expected, received, 0)

	assert.Equal(t, domain.VerificationPartial, res.Status)
	assert.Equal(t, 66.7, res.MatchPercentage)
	require.Len(t, res.Matched, 2)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, "Latitude7490", res.Missing[0].Model)
	require.Len(t, res.Extra, 1)
	assert.Equal(t, "d2", res.Extra[0].DeviceID)
	assert.Len(t, res.Discrepancies, 2)
}

func TestMatchVerifiedIgnoresCaseAndSpacing(t *testing.T) {
	expected := []domain.ExpectedItem{
		{Category: domain.CategoryLaptop, Brand: "Lenovo", Model: "T480", Quantity: 1},
		{Category: domain.CategoryMonitor, Brand: "Dell", Model: "P2419H", Quantity: 2},
	}
	received := []domain.MatchedUnit{
		unit("m1", domain.CategoryMonitor, "dell", " p2419h"),
		unit("l1", domain.CategoryLaptop, "LENOVO", "t480"),
		unit("m2", domain.CategoryMonitor, "Dell", "P2419H"),
	}

	res := shipment.Match(expected, received, 0)

	assert.Equal(t, domain.VerificationVerified, res.Status)
	assert.Equal(t, 100.0, res.MatchPercentage)
	assert.Empty(t, res.Missing)
	assert.Empty(t, res.Extra)
	assert.Empty(t, res.Discrepancies)
}

func TestMatchExtraTolerance(t *testing.T) {
	expected := []domain.ExpectedItem{{Category: domain.CategoryTablet, Brand: "Apple", Model: "iPad 9", Quantity: 1}}
	received := []domain.MatchedUnit{
		unit("t1", domain.CategoryTablet, "Apple", "iPad 9"),
		unit("t2", domain.CategoryTablet, "Apple", "iPad 9"),
	}

	assert.Equal(t, domain.VerificationPartial, shipment.Match(expected, received, 0).Status)
	assert.Equal(t, domain.VerificationVerified, shipment.Match(expected, received, 1).Status)
}

func TestMatchCompleteness(t *testing.T) {
	expected := []domain.ExpectedItem{
		{Category: domain.CategoryLaptop, Brand: "HP", Model: "840 G5", Quantity: 2},
		{Category: domain.CategoryLaptop, Brand: "HP", Model: "840 G5", Quantity: 1},
		{Category: domain.CategoryServer, Brand: "Dell", Model: "R640", Quantity: 2},
	}
	received := []domain.MatchedUnit{
		unit("a", domain.CategoryLaptop, "HP", "840 G5"),
		unit("b", domain.CategoryLaptop, "HP", "840 G5"),
		unit("c", domain.CategoryLaptop, "HP", "840 G5"),
		unit("d", domain.CategoryLaptop, "HP", "840 G5"),
		unit("e", domain.CategoryServer, "Dell", "R640"),
		unit("f", domain.CategoryDesktop, "Dell", "7060"),
	}

	res := shipment.Match(expected, received, 0)

	assert.Equal(t, res.TotalExpected, len(res.Matched)+len(res.Missing))
	seen := map[string]int{}
	for _, u := range res.Matched {
		seen[u.DeviceID]++
	}
	for _, u := range res.Extra {
		seen[u.DeviceID]++
	}
	require.Len(t, seen, len(received))
	for id, n := range seen {
		assert.Equalf(t, 1, n, "device %s counted %d times", id, n)
	}
}

func TestMatchEmptyPurchaseOrder(t *testing.T) {
	assert.Equal(t, 100.0, shipment.Match(nil, nil, 0).MatchPercentage)
	res := shipment.Match(nil, []domain.MatchedUnit{unit("x", domain.CategoryLaptop, "A", "B")}, 0)
	assert.Equal(t, 0.0, res.MatchPercentage)
	assert.Equal(t, domain.VerificationPartial, res.Status)
}
