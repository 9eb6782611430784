package weather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c11s/house-core/internal/address"
	"github.com/c11s/house-core/internal/errs"
	"github.com/c11s/house-core/internal/obs"
	"github.com/c11s/house-core/internal/store"
)

// QuestionID is the synthetic question the weather note answers.
const QuestionID = "weather-latest"

// Fetcher is the weather collaborator the adapter consumes.
type Fetcher interface {
	Fetch(ctx context.Context, coord address.Coordinate) (Summary, error)
}

// Adapter translates weather snapshots into note-store writes. It talks to
// the store only through its public operations.
type Adapter struct {
	notes   *store.Service
	fetcher Fetcher
	log     *slog.Logger
}

// NewAdapter wires a weather adapter.
func NewAdapter(notes *store.Service, fetcher Fetcher) *Adapter {
	return &Adapter{
		notes:   notes,
		fetcher: fetcher,
		log:     obs.Pkg("weather"),
	}
}

// Record fetches current conditions and upserts the weather note. The
// synthetic question is created on first use.
func (a *Adapter) Record(ctx context.Context, coord address.Coordinate) (Summary, error) {
	if err := a.ensureQuestion(ctx); err != nil {
		return Summary{}, err
	}

	summary, err := a.fetcher.Fetch(ctx, coord)
	if err != nil {
		return Summary{}, err
	}

	lat, lon := coord.MetadataPair()
	answer := fmt.Sprintf("%s, %.1f°C, wind %.1f km/h", summary.Condition, summary.TemperatureC, summary.WindSpeedKmh)
	err = a.notes.SaveOrUpdateNote(ctx, QuestionID, answer, map[string]string{
		store.MetaSource: "open-meteo",
		// Synthetic notes never need conversation review.
		store.MetaUpdatedViaConversation: "true",
		store.MetaLatitude:               lat,
		store.MetaLongitude:              lon,
		"weather_code":                   fmt.Sprintf("%d", summary.Code),
		"fetched_at":                     summary.FetchedAt.Format(time.RFC3339),
	})
	if err != nil {
		return Summary{}, err
	}

	a.log.Info("recorded weather note", "condition", summary.Condition, "temperature_c", summary.TemperatureC)
	return summary, nil
}

func (a *Adapter) ensureQuestion(ctx context.Context) error {
	err := a.notes.AddQuestion(ctx, store.Question{
		ID:           QuestionID,
		Text:         "What's the weather like at the house?",
		Category:     store.CategoryHouseInfo,
		Kind:         store.KindCustom,
		DisplayOrder: 1000,
		IsRequired:   false,
	})
	if err != nil && errs.CodeOf(err) != errs.AlreadyExists {
		return err
	}
	return nil
}
