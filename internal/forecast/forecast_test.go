package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aimeter/internal/clock"
	"github.com/smallbiznis/aimeter/internal/config"
	"github.com/smallbiznis/aimeter/internal/rollup"
	snapshotdomain "github.com/smallbiznis/aimeter/internal/snapshot/domain"
	"github.com/smallbiznis/aimeter/internal/snapshot/repository"
	snapshotservice "github.com/smallbiznis/aimeter/internal/snapshot/service"
	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"github.com/smallbiznis/aimeter/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

type mockForecaster struct {
	mock.Mock
}

func (m *mockForecaster) Forecast(ctx context.Context, series Series, horizonDays int) ([]Point, error) {
	args := m.Called(ctx, series, horizonDays)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Point), args.Error(1)
}

func testConfig() config.Config {
	return config.Config{
		ForecastLookbackDays:   365,
		ForecastMinHistoryDays: 14,
		ForecastHorizonDays:    5,
	}
}

func setupBuilder(t *testing.T, fake *clock.FakeClock, forecaster Forecaster, historyDays int) *Builder {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&snapshotdomain.Row{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	repo := repository.NewRepository(repository.Params{DB: conn, Log: zap.NewNop()})
	snapshots := snapshotservice.NewService(snapshotservice.Params{
		Repo: repo, Clock: fake, GenID: node, Log: zap.NewNop(),
	})

	rollups := make([]rollup.DailyRollup, 0, historyDays)
	for d := 1; d <= historyDays; d++ {
		rollups = append(rollups, rollup.DailyRollup{
			UsageDate:   day(d),
			ServiceType: usagedomain.ServiceFunctions,
			Credits:     10,
			Operations:  100,
		})
	}
	window := usagedomain.Window{Start: day(1), End: day(historyDays + 1)}
	if _, err := snapshots.Merge(context.Background(), rollups, window); err != nil {
		t.Fatalf("seed snapshots: %v", err)
	}

	return NewBuilder(Params{
		Snapshots:  snapshots,
		Clock:      fake,
		Config:     testConfig(),
		Log:        zap.NewNop(),
		Forecaster: forecaster,
	})
}

func TestForecastHappyPath(t *testing.T) {
	fake := clock.NewFakeClock(day(21))
	forecaster := &mockForecaster{}
	builder := setupBuilder(t, fake, forecaster, 20)

	want := []Point{{
		ServiceType:       usagedomain.ServiceFunctions,
		ForecastDate:      day(21),
		ForecastCredits:   10,
		LowerBoundCredits: 8,
		UpperBoundCredits: 12,
	}}
	forecaster.On("Forecast", mock.Anything, mock.Anything, 5).Return(want, nil)

	points, err := builder.Forecast(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, want, points)
	forecaster.AssertNumberOfCalls(t, "Forecast", 1)
}

func TestForecastFallbackOnModelError(t *testing.T) {
	fake := clock.NewFakeClock(day(21))
	forecaster := &mockForecaster{}
	forecaster.On("Forecast", mock.Anything, mock.Anything, 5).Return(nil, errors.New("model build failed"))
	builder := setupBuilder(t, fake, forecaster, 20)

	points, err := builder.Forecast(context.Background())
	assert.NoError(t, err, "a model failure must not surface as an error")
	assert.NotNil(t, points)
	assert.Empty(t, points)
}

func TestForecastMaturityGateSkipsModel(t *testing.T) {
	fake := clock.NewFakeClock(day(11))
	forecaster := &mockForecaster{}
	builder := setupBuilder(t, fake, forecaster, 10)

	points, err := builder.Forecast(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, points)
	forecaster.AssertNotCalled(t, "Forecast", mock.Anything, mock.Anything, mock.Anything)
}

func TestForecastWithoutForecasterFallsBack(t *testing.T) {
	fake := clock.NewFakeClock(day(21))
	builder := setupBuilder(t, fake, nil, 20)

	points, err := builder.Forecast(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, points)
	assert.Empty(t, points)
}

func TestBuildSeries(t *testing.T) {
	fake := clock.NewFakeClock(day(21))
	builder := setupBuilder(t, fake, nil, 15)

	series, err := builder.BuildSeries(context.Background())
	assert.NoError(t, err)
	if assert.Len(t, series, 1) {
		assert.Equal(t, usagedomain.ServiceFunctions, series[0].ServiceType)
		assert.Len(t, series[0].Points, 15)
		assert.Equal(t, 10.0, series[0].Points[0].Value)
		assert.True(t, series[0].Points[0].Timestamp.Before(series[0].Points[14].Timestamp))
	}
}

func TestNaiveForecaster(t *testing.T) {
	points := make([]SeriesPoint, 0, 14)
	for d := 1; d <= 14; d++ {
		points = append(points, SeriesPoint{Timestamp: day(d), Value: 10})
	}
	series := Series{ServiceType: usagedomain.ServiceSearch, Points: points}

	forecasted, err := NewNaiveForecaster().Forecast(context.Background(), series, 3)
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if len(forecasted) != 3 {
		t.Fatalf("expected 3 points, got %d", len(forecasted))
	}
	for i, p := range forecasted {
		if !p.ForecastDate.Equal(day(15 + i)) {
			t.Fatalf("point %d: unexpected date %v", i, p.ForecastDate)
		}
		if p.ForecastCredits != 10 || p.LowerBoundCredits != 10 || p.UpperBoundCredits != 10 {
			t.Fatalf("point %d: constant series must project flat, got %+v", i, p)
		}
	}
}

func TestNaiveForecasterEmptySeries(t *testing.T) {
	_, err := NewNaiveForecaster().Forecast(context.Background(), Series{ServiceType: usagedomain.ServiceSearch}, 3)
	if err == nil {
		t.Fatal("expected error for empty series")
	}
}

func TestAssessMaturity(t *testing.T) {
	cases := []struct {
		days  int
		level string
	}{
		{0, "insufficient"},
		{2, "insufficient"},
		{3, "minimal"},
		{7, "limited"},
		{14, "moderate"},
		{30, "good"},
		{365, "good"},
	}
	for _, tc := range cases {
		if got := AssessMaturity(tc.days); got.Level != tc.level {
			t.Fatalf("days %d: expected %s, got %s", tc.days, tc.level, got.Level)
		}
	}
}
