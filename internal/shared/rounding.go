package shared

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// DisplayPlaces is the precision of stock quantities in responses.
	DisplayPlaces = 2
	// RawPlaces is the precision of derived raw-ingredient consumption.
	RawPlaces = 3
)

// RoundHalfUp rounds v to places decimals, halves away from zero. The value is
// taken from its shortest decimal representation, so 2.675 rounds to 2.68.
func RoundHalfUp(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	out, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return out
}

// RoundQty rounds a displayed stock quantity.
func RoundQty(v float64) float64 {
	return RoundHalfUp(v, DisplayPlaces)
}

// RoundRaw rounds a raw-equivalent consumption quantity.
func RoundRaw(v float64) float64 {
	return RoundHalfUp(v, RawPlaces)
}

// MulRaw multiplies a recipe ratio by a prepared quantity in decimal
// arithmetic and rounds the product to RawPlaces.
func MulRaw(ratio, qty float64) float64 {
	out, _ := decimal.NewFromFloat(ratio).Mul(decimal.NewFromFloat(qty)).Round(RawPlaces).Float64()
	return out
}

// AddQty adds and subtracts stock quantities in decimal arithmetic, keeping
// RawPlaces of precision so repeated edits do not accumulate float error.
func AddQty(base float64, deltas ...float64) float64 {
	sum := decimal.NewFromFloat(base)
	for _, d := range deltas {
		sum = sum.Add(decimal.NewFromFloat(d))
	}
	out, _ := sum.Round(RawPlaces).Float64()
	return out
}
