// Command jellystream synthesizes virtual TV channels from a Jellyfin
// library and serves them as live TV.
//
//	run       Serve the HTTP API, stream proxy, and nightly maintainer
//	migrate   Apply database migrations and exit
//	generate  Generate a channel's schedule from the command line
//	probe     Check media server reachability, ffmpeg/ffprobe, and the database
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jellystream/jellystream/internal/config"
	"github.com/jellystream/jellystream/internal/jellyfin"
	"github.com/jellystream/jellystream/internal/logx"
	"github.com/jellystream/jellystream/internal/maintainer"
	"github.com/jellystream/jellystream/internal/pool"
	"github.com/jellystream/jellystream/internal/schedule"
	"github.com/jellystream/jellystream/internal/server"
	"github.com/jellystream/jellystream/internal/sidecar"
	"github.com/jellystream/jellystream/internal/store"
	"github.com/jellystream/jellystream/internal/stream"
)

func main() {
	_ = config.LoadEnvFile(".env")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <run|migrate|generate|probe> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  run       Serve the HTTP API, stream proxy, and nightly maintainer\n")
		fmt.Fprintf(os.Stderr, "  migrate   Apply database migrations and exit\n")
		fmt.Fprintf(os.Stderr, "  generate  Generate a channel's schedule (-channel, -days, -reset)\n")
		fmt.Fprintf(os.Stderr, "  probe     Check media server reachability, ffmpeg/ffprobe, and the database\n")
		os.Exit(1)
	}

	cfg := config.Load()
	log := logx.Setup(logx.Config{Debug: cfg.Debug, Dir: cfg.LogDir})

	var err error
	switch os.Args[1] {
	case "run":
		err = runServe(cfg, log, os.Args[2:])
	case "migrate":
		err = runMigrate(cfg, log, os.Args[2:])
	case "generate":
		err = runGenerate(cfg, log, os.Args[2:])
	case "probe":
		err = runProbe(cfg, log, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("exiting")
		os.Exit(1)
	}
}

// buildServices wires the domain graph shared by run and generate.
type services struct {
	store     *store.Store
	client    *jellyfin.Client
	generator *schedule.Generator
	pathMap   sidecar.PathMap
}

func buildServices(cfg *config.Config, log zerolog.Logger) (*services, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	client := jellyfin.New(cfg.MediaServerURL, cfg.MediaServerAPIKey, cfg.MediaServerUserID,
		log.With().Str("component", "jellyfin").Logger())
	pm := sidecar.NewPathMap(cfg.MediaPathMap)
	builder := &pool.Builder{
		Store:   st,
		Client:  client,
		PathMap: pm,
		Log:     log.With().Str("component", "pool").Logger(),
	}
	gen := &schedule.Generator{
		Store: st,
		Pool:  builder,
		Log:   log.With().Str("component", "schedule").Logger(),
	}
	return &services{store: st, client: client, generator: gen, pathMap: pm}, nil
}

func runServe(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	noMaintainer := fs.Bool("no-maintainer", false, "Disable the nightly schedule maintainer")
	_ = fs.Parse(args)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if strings.Contains(cfg.PublicBase(), "localhost") {
		log.Warn().Str("public_url", cfg.PublicBase()).
			Msg("PUBLIC_URL points at localhost; the media server will not reach the playlist or streams")
	}

	svc, err := buildServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxy := &stream.Proxy{
		Store:    svc.store,
		Resolver: &stream.Resolver{Client: svc.client, Log: log.With().Str("component", "stream").Logger()},
		Runner:   &stream.FFmpegRunner{},
		Prober: &stream.FFProbeAudio{
			Language: cfg.PreferredAudioLanguage,
			Log:      log.With().Str("component", "probe").Logger(),
		},
		Log: log.With().Str("component", "stream").Logger(),
	}

	if !*noMaintainer {
		m := &maintainer.Maintainer{
			Store:      svc.store,
			Generator:  svc.generator,
			Log:        log.With().Str("component", "maintainer").Logger(),
			HourUTC:    cfg.MaintainerHourUTC,
			LowWater:   cfg.LowWater(),
			ExtendDays: cfg.ExtendDays,
		}
		go func() {
			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("maintainer stopped")
			}
		}()
	}

	srv := &server.Server{
		Store:      svc.store,
		Proxy:      proxy,
		Generator:  svc.generator,
		LiveTV:     svc.client,
		Lookup:     svc.client,
		PathMap:    svc.pathMap,
		PublicBase: cfg.PublicBase(),
		Log:        log.With().Str("component", "http").Logger(),
	}
	httpSrv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("public_url", cfg.PublicBase()).Msg("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		return err
	}
	return nil
}

func runMigrate(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	_ = fs.Parse(args)

	// Open applies pending migrations.
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info().Str("database", cfg.DatabasePath()).Msg("migrations applied")
	return nil
}

func runGenerate(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	channelID := fs.Int64("channel", 0, "Channel id (required)")
	days := fs.Int("days", 7, "Days of schedule to generate")
	reset := fs.Bool("reset", false, "Delete existing entries and clear the watermark first")
	_ = fs.Parse(args)

	if *channelID <= 0 {
		return fmt.Errorf("-channel is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	svc, err := buildServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *reset {
		if err := svc.generator.Reset(ctx, *channelID); err != nil {
			return err
		}
		log.Info().Int64("channel", *channelID).Msg("schedule reset")
	}
	n, err := svc.generator.Generate(ctx, *channelID, *days)
	if err != nil {
		return err
	}
	log.Info().Int64("channel", *channelID).Int("entries", n).Int("days", *days).Msg("schedule generated")
	return nil
}

func runProbe(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	timeout := fs.Duration("timeout", 15*time.Second, "Timeout for the media server check")
	_ = fs.Parse(args)

	failed := false
	report := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Printf("FAIL  %-14s %v\n", name, err)
			return
		}
		fmt.Printf("OK    %s\n", name)
	}

	report("config", cfg.Validate())

	_, ffmpegErr := exec.LookPath("ffmpeg")
	report("ffmpeg", ffmpegErr)
	_, ffprobeErr := exec.LookPath("ffprobe")
	report("ffprobe", ffprobeErr)

	st, err := store.Open(cfg.DatabasePath())
	report("database", err)
	if err == nil {
		defer st.Close()
	}

	if cfg.MediaServerURL != "" && cfg.MediaServerAPIKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		client := jellyfin.New(cfg.MediaServerURL, cfg.MediaServerAPIKey, cfg.MediaServerUserID, logx.Nop())
		userID, err := client.EnsureUserID(ctx)
		if err != nil {
			report("media server", err)
		} else {
			report("media server", nil)
			fmt.Printf("      user id: %s\n", userID)
			libs, err := client.Libraries(ctx)
			report("libraries", err)
			for _, l := range libs {
				fmt.Printf("      %s (%s) %s\n", l.Name, l.CollectionType, l.ItemID)
			}
		}
	} else {
		report("media server", fmt.Errorf("MEDIA_SERVER_URL / MEDIA_SERVER_API_KEY unset"))
	}

	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	log.Info().Msg("all checks passed")
	return nil
}
