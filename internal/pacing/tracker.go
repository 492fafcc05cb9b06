// Package pacing projects monthly-active-user volume against the Braze
// contract quota and publishes the projection to object storage.
package pacing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/gmg-media/newspassid/internal/storage"
)

// MauDataPoint is one day of the Braze MAU series.
type MauDataPoint struct {
	Time string `json:"time"` // YYYY-MM-DD
	Mau  int64  `json:"mau"`
}

type mauSeriesResponse struct {
	Data    []MauDataPoint `json:"data"`
	Message string         `json:"message"`
}

// Projection is the pacing snapshot overwritten wholesale on each run.
type Projection struct {
	CurrentMau             int64          `json:"currentMau"`
	CurrentDate            string         `json:"currentDate"`
	MonthlyLimit           int64          `json:"monthlyLimit"`
	DaysInMonth            int            `json:"daysInMonth"`
	DaysElapsed            int            `json:"daysElapsed"`
	DaysRemaining          int            `json:"daysRemaining"`
	ProjectedEndOfMonthMau int64          `json:"projectedEndOfMonthMau"`
	ProjectedOverage       int64          `json:"projectedOverage"`
	PacingPercentage       float64        `json:"pacingPercentage"`
	IsOnPace               bool           `json:"isOnPace"`
	DailyAverageGrowth     int64          `json:"dailyAverageGrowth"`
	LastUpdated            string         `json:"lastUpdated"`
	RawData                []MauDataPoint `json:"rawData"`
}

// Tracker fetches the MAU series and writes the pacing projection. All
// collaborators are explicit so tests can run it against fakes and a fixed
// clock.
type Tracker struct {
	HTTP         *http.Client
	Store        storage.ObjectStore
	Endpoint     string
	APIKey       string
	MonthlyLimit int64
	Now          func() time.Time
	Log          zerolog.Logger
}

// Run executes one pacing cycle. Any failure (API error, empty series,
// storage write) aborts the whole run with no partial persistence.
func (t *Tracker) Run(ctx context.Context) (*Projection, error) {
	series, err := t.fetchMauSeries(ctx, 30)
	if err != nil {
		return nil, err
	}
	if series.Message != "success" {
		return nil, fmt.Errorf("braze api returned error: %s", series.Message)
	}
	t.Log.Info().Int("points", len(series.Data)).Msg("received mau data")

	projection, err := Calculate(series.Data, t.MonthlyLimit, t.Now())
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(projection, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := t.Store.Put(ctx, storage.PacingKey, data, "application/json"); err != nil {
		return nil, fmt.Errorf("store pacing projection: %w", err)
	}

	t.Log.Info().
		Int64("current_mau", projection.CurrentMau).
		Int64("projected_eom_mau", projection.ProjectedEndOfMonthMau).
		Bool("on_pace", projection.IsOnPace).
		Float64("pacing_pct", projection.PacingPercentage).
		Msg("pacing projection stored")
	return projection, nil
}

func (t *Tracker) fetchMauSeries(ctx context.Context, days int) (*mauSeriesResponse, error) {
	url := fmt.Sprintf("%s/kpi/mau/data_series?length=%d", t.Endpoint, days)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("braze api request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("braze api request failed: %s", resp.Status)
	}
	var series mauSeriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, fmt.Errorf("decode braze response: %w", err)
	}
	return &series, nil
}

// Calculate derives the pacing projection from a MAU series. The series is
// sorted chronologically; the latest point anchors the calendar math, and
// day-over-day deltas within the latest point's month give the growth rate.
func Calculate(points []MauDataPoint, monthlyLimit int64, now time.Time) (*Projection, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no mau data available for calculation")
	}

	sorted := make([]MauDataPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	latest := sorted[len(sorted)-1]
	currentDate, err := time.Parse("2006-01-02", latest.Time)
	if err != nil {
		return nil, fmt.Errorf("parse mau date %q: %w", latest.Time, err)
	}

	daysInMonth := time.Date(currentDate.Year(), currentDate.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	daysElapsed := currentDate.Day()
	daysRemaining := daysInMonth - daysElapsed

	var inMonth []MauDataPoint
	for _, p := range sorted {
		d, err := time.Parse("2006-01-02", p.Time)
		if err != nil {
			continue
		}
		if d.Month() == currentDate.Month() && d.Year() == currentDate.Year() {
			inMonth = append(inMonth, p)
		}
	}

	var dailyAverageGrowth float64
	if len(inMonth) > 1 {
		var total float64
		for i := 1; i < len(inMonth); i++ {
			total += float64(inMonth[i].Mau - inMonth[i-1].Mau)
		}
		dailyAverageGrowth = total / float64(len(inMonth)-1)
	}

	projected := float64(latest.Mau) + dailyAverageGrowth*float64(daysRemaining)
	overage := math.Max(0, projected-float64(monthlyLimit))
	pacingPct := math.Round(projected/float64(monthlyLimit)*100*100) / 100

	return &Projection{
		CurrentMau:             latest.Mau,
		CurrentDate:            latest.Time,
		MonthlyLimit:           monthlyLimit,
		DaysInMonth:            daysInMonth,
		DaysElapsed:            daysElapsed,
		DaysRemaining:          daysRemaining,
		ProjectedEndOfMonthMau: int64(math.Round(projected)),
		ProjectedOverage:       int64(math.Round(overage)),
		PacingPercentage:       pacingPct,
		IsOnPace:               projected <= float64(monthlyLimit),
		DailyAverageGrowth:     int64(math.Round(dailyAverageGrowth)),
		LastUpdated:            now.UTC().Format(time.RFC3339),
		RawData:                sorted,
	}, nil
}
