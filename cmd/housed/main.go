// housed is the house consciousness daemon. It owns the encrypted note
// store, runs the onboarding question flow over WebSocket, and keeps a few
// ambient notes (weather, imported smart-home rooms) fresh in the background.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/c11s/house-core/internal/address"
	"github.com/c11s/house-core/internal/config"
	"github.com/c11s/house-core/internal/flow"
	"github.com/c11s/house-core/internal/gateway"
	"github.com/c11s/house-core/internal/homekit"
	"github.com/c11s/house-core/internal/location"
	"github.com/c11s/house-core/internal/obs"
	"github.com/c11s/house-core/internal/store"
	"github.com/c11s/house-core/internal/weather"
)

const shutdownTimeout = 10 * time.Second

func main() {
	flags := config.ParseFlags()

	if flags.EnvFile != "" {
		if err := godotenv.Load(flags.EnvFile); err != nil {
			fmt.Fprintf(os.Stderr, "load env file %s: %v\n", flags.EnvFile, err)
			os.Exit(1)
		}
	}

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	obs.Init()
	log := obs.Pkg("main")

	docKey, err := store.DeriveDocumentKey(cfg.MasterKey, "notes")
	if err != nil {
		log.Error("derive document key", "error", err)
		os.Exit(1)
	}
	docs, err := store.Open(cfg.DatabasePath, docKey)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer docs.Close()

	notes := store.New(docs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Boot-time load surfaces corruption before any client connects.
	data, err := notes.Load(ctx)
	if err != nil {
		log.Error("load note store", "error", err)
		os.Exit(1)
	}
	log.Info("note store ready",
		"questions", len(data.Questions),
		"notes", len(data.Notes),
		"completion_pct", data.CompletionPercentage())

	if flags.HomeKitImport != "" {
		if err := importHomeKit(ctx, notes, flags.HomeKitImport); err != nil {
			log.Error("smart home import failed", "path", flags.HomeKitImport, "error", err)
			os.Exit(1)
		}
	}

	var addresses flow.AddressProvider
	if cfg.NoGeo {
		log.Info("using fixture address provider")
		addresses = location.NewMock(notes)
	} else if cfg.HasHouseCoords {
		addresses = location.NewClient(notes, cfg.GeocoderBaseURL, cfg.GeocoderUserAgent,
			address.Coordinate{Latitude: cfg.HouseLatitude, Longitude: cfg.HouseLongitude},
			cfg.GeocoderTimeout)
	} else {
		log.Info("no house coordinates configured, address detection disabled")
	}

	if !cfg.NoWeather {
		go runWeather(ctx, notes, cfg)
	}

	go logProgress(ctx, notes)

	handler := gateway.NewHandler(func(speech flow.SpeechOutput) *flow.Coordinator {
		return flow.NewCoordinator(notes, speech, addresses)
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}
}

func importHomeKit(ctx context.Context, notes *store.Service, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, err := homekit.ParseConfiguration(raw)
	if err != nil {
		return err
	}
	return homekit.NewAdapter(notes).Import(ctx, cfg)
}

// runWeather refreshes the weather note on a fixed interval until shutdown.
func runWeather(ctx context.Context, notes *store.Service, cfg *config.Config) {
	log := obs.Pkg("main")
	adapter := weather.NewAdapter(notes, weather.NewClient(cfg.WeatherBaseURL, cfg.WeatherRPS, cfg.WeatherTimeout))
	coord := address.Coordinate{Latitude: cfg.HouseLatitude, Longitude: cfg.HouseLongitude}

	ticker := time.NewTicker(cfg.WeatherInterval)
	defer ticker.Stop()
	for {
		if summary, err := adapter.Record(ctx, coord); err != nil {
			log.Warn("weather refresh failed", "error", err)
		} else {
			log.Info("weather updated", "condition", summary.Condition, "temp_c", summary.TemperatureC)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// logProgress watches store snapshots and logs onboarding progress changes.
func logProgress(ctx context.Context, notes *store.Service) {
	log := obs.Pkg("main")
	snapshots, cancel := notes.Subscribe()
	defer cancel()

	last := -1.0
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			pct := snap.CompletionPercentage()
			if pct != last {
				log.Info("onboarding progress", "completion_pct", pct)
				last = pct
			}
		}
	}
}
