// Package shipment reconciles what physically arrived in an inward batch
// against the lines of its purchase order.
package shipment

import (
	"fmt"
	"math"
	"strings"

	"refurbline/internal/domain"
)

type key struct {
	category string
	brand    string
	model    string
}

func keyOf(category domain.Category, brand, model string) key {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return key{category: norm(string(category)), brand: norm(brand), model: norm(model)}
}

// Match runs a greedy multiset match keyed by (category, brand, model). Each
// expected line consumes up to its quantity of received units in arrival
// order; what it cannot consume is missing, and received units nobody consumed
// are extra. The batch verifies only with nothing missing and at most
// extraTolerance extras.
func Match(expected []domain.ExpectedItem, received []domain.MatchedUnit, extraTolerance int) domain.VerificationResult {
	queues := map[key][]int{}
	for i, u := range received {
		k := keyOf(u.Category, u.Brand, u.Model)
		queues[k] = append(queues[k], i)
	}
	consumed := make([]bool, len(received))
	res := domain.VerificationResult{
		TotalReceived: len(received),
		Matched:       []domain.MatchedUnit{},
		Missing:       []domain.MissingUnit{},
		Extra:         []domain.MatchedUnit{},
		Discrepancies: []string{},
	}
	for _, line := range expected {
		res.TotalExpected += line.Quantity
		k := keyOf(line.Category, line.Brand, line.Model)
		q := queues[k]
		take := line.Quantity
		if take > len(q) {
			take = len(q)
		}
		for _, idx := range q[:take] {
			consumed[idx] = true
			res.Matched = append(res.Matched, received[idx])
		}
		queues[k] = q[take:]
		short := line.Quantity - take
		for i := 0; i < short; i++ {
			res.Missing = append(res.Missing, domain.MissingUnit{Category: line.Category, Brand: line.Brand, Model: line.Model})
		}
		if short > 0 {
			res.Discrepancies = append(res.Discrepancies, fmt.Sprintf("Missing %d of %d %s %s %s", short, line.Quantity, line.Category, line.Brand, line.Model))
		}
	}
	for i, u := range received {
		if consumed[i] {
			continue
		}
		res.Extra = append(res.Extra, u)
		res.Discrepancies = append(res.Discrepancies, fmt.Sprintf("Unexpected %s %s %s (barcode %s)", u.Category, u.Brand, u.Model, u.Barcode))
	}
	res.MatchPercentage = percentage(len(res.Matched), res.TotalExpected, len(res.Extra))
	if len(res.Missing) == 0 && len(res.Extra) <= extraTolerance {
		res.Status = domain.VerificationVerified
	} else {
		res.Status = domain.VerificationPartial
	}
	return res
}

func percentage(matched, expected, extra int) float64 {
	if expected == 0 {
		if extra == 0 {
			return 100
		}
		return 0
	}
	return math.Round(float64(matched)/float64(expected)*1000) / 10
}
