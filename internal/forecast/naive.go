package forecast

import (
	"context"
	"errors"
	"math"

	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
)

// naiveTrailingDays bounds the window the naive model averages over.
const naiveTrailingDays = 30

var errEmptySeries = errors.New("forecast: empty series")

// NaiveForecaster projects the trailing mean forward with a symmetric
// interval of ±1.28 standard deviations, clamped at zero. A deterministic
// stand-in for an external model; deployments with a real forecasting
// service replace it through the Forecaster interface.
type NaiveForecaster struct{}

func NewNaiveForecaster() *NaiveForecaster {
	return &NaiveForecaster{}
}

func (f *NaiveForecaster) Forecast(ctx context.Context, series Series, horizonDays int) ([]Point, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(series.Points) == 0 {
		return nil, errEmptySeries
	}
	if horizonDays <= 0 {
		horizonDays = 1
	}

	tail := series.Points
	if len(tail) > naiveTrailingDays {
		tail = tail[len(tail)-naiveTrailingDays:]
	}

	var sum float64
	for _, p := range tail {
		sum += p.Value
	}
	mean := sum / float64(len(tail))

	var sq float64
	for _, p := range tail {
		d := p.Value - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(tail)))

	lower := mean - 1.28*stddev
	if lower < 0 {
		lower = 0
	}
	upper := mean + 1.28*stddev

	last := series.Points[len(series.Points)-1].Timestamp
	points := make([]Point, 0, horizonDays)
	for i := 1; i <= horizonDays; i++ {
		points = append(points, Point{
			ServiceType:       series.ServiceType,
			ForecastDate:      usagedomain.Day(last).AddDate(0, 0, i),
			ForecastCredits:   mean,
			LowerBoundCredits: lower,
			UpperBoundCredits: upper,
		})
	}
	return points, nil
}
