// Package pricing computes market-maker fill prices and keeps complementary
// outcome prices inside the tradable band.
package pricing

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Default parameters.
const (
	DefaultBaseSpread         = 0.005
	DefaultLiquidityFactor    = 0.002
	DefaultVolumeImpactFactor = 0.005
	DefaultMinPrice           = 0.01
	DefaultMaxPrice           = 0.99
)

// RandSource yields uniform values in [0, 1).
type RandSource interface {
	Float64() float64
}

// Params tunes the impact function and the price band.
type Params struct {
	BaseSpread         float64
	LiquidityFactor    float64
	VolumeImpactFactor float64
	MinPrice           float64
	MaxPrice           float64
}

// DefaultParams returns the production parameters.
func DefaultParams() Params {
	return Params{
		BaseSpread:         DefaultBaseSpread,
		LiquidityFactor:    DefaultLiquidityFactor,
		VolumeImpactFactor: DefaultVolumeImpactFactor,
		MinPrice:           DefaultMinPrice,
		MaxPrice:           DefaultMaxPrice,
	}
}

// Impact prices synthetic market-maker fills.
type Impact struct {
	params Params
	rnd    RandSource
}

// NewImpact creates an Impact. A nil rnd uses a process-wide generator.
func NewImpact(params Params, rnd RandSource) *Impact {
	if rnd == nil {
		rnd = &lockedRand{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	}
	return &Impact{params: params, rnd: rnd}
}

// Params returns the configured parameters.
func (i *Impact) Params() Params {
	return i.params
}

// PriceWithImpact returns the price at which the market maker fills amount
// shares against a taker on side. Buying moves the price up with volume,
// selling moves it down. The result is not clamped.
func (i *Impact) PriceWithImpact(current, amount float64, side domain.OrderSide) float64 {
	lf := i.params.LiquidityFactor
	base := i.params.BaseSpread + (i.rnd.Float64()*lf*2 - lf)
	volume := i.params.VolumeImpactFactor * math.Log10(amount+1)
	direction := 1.0
	if side == domain.OrderSideSell {
		direction = -1.0
	}
	return current * (1 + base + volume*direction)
}

// Constrain clamps raw into [MinPrice, MaxPrice] and returns the clamped
// price together with its complement.
func (i *Impact) Constrain(raw float64) (price, complement float64) {
	return Constrain(raw, i.params.MinPrice, i.params.MaxPrice)
}

// Constrain clamps raw into [lo, hi] and returns it with 1 - price.
// NaN clamps to lo.
func Constrain(raw, lo, hi float64) (price, complement float64) {
	switch {
	case math.IsNaN(raw), raw < lo:
		price = lo
	case raw > hi:
		price = hi
	default:
		price = raw
	}
	return price, 1 - price
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Fixed is a RandSource that always returns the same value.
type Fixed float64

// Float64 implements RandSource.
func (f Fixed) Float64() float64 { return float64(f) }
