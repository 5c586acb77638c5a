package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/breeze-rmm/session-panel/internal/collectors"
	"github.com/breeze-rmm/session-panel/internal/config"
	"github.com/breeze-rmm/session-panel/internal/discord"
	"github.com/breeze-rmm/session-panel/internal/geo"
	"github.com/breeze-rmm/session-panel/internal/health"
	"github.com/breeze-rmm/session-panel/internal/heartbeat"
	"github.com/breeze-rmm/session-panel/internal/journal"
	"github.com/breeze-rmm/session-panel/internal/logging"
	"github.com/breeze-rmm/session-panel/internal/monitor"
	"github.com/breeze-rmm/session-panel/internal/panel"
	"github.com/breeze-rmm/session-panel/internal/publisher"
	"github.com/breeze-rmm/session-panel/internal/secmem"
	"github.com/breeze-rmm/session-panel/internal/statusapi"
	"github.com/breeze-rmm/session-panel/internal/store"
)

const (
	stateFileName    = "state.json"
	geoCacheFileName = "geo_cache.json"
	journalFileName  = "journal.jsonl"
)

// panelComponents are the running pieces of the monitor.
type panelComponents struct {
	token   *secmem.Token
	bot     *discord.Bot
	hb      *heartbeat.Heartbeat
	status  *statusapi.Server
	journal *journal.Journal
	cancel  context.CancelFunc
	loopErr chan error
}

// loadConfig reads and validates configuration and initialises logging.
// Without requireCredentials a missing token or channel is tolerated.
func loadConfig(requireCredentials bool) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	out, closer, err := logging.Output(cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)

	result := cfg.ValidateTiered()
	if !requireCredentials {
		var kept []error
		for _, err := range result.Fatals {
			if !errors.Is(err, config.ErrMissingRequired) {
				kept = append(kept, err)
			}
		}
		result.Fatals = kept
	}
	if err := result.FatalError(); err != nil {
		closer.Close()
		return nil, nil, err
	}
	return cfg, closer, nil
}

func buildEngine(cfg *config.Config, hm *health.Monitor, jr *journal.Journal) *monitor.Engine {
	cache := geo.NewCache(
		filepath.Join(cfg.DataDir, geoCacheFileName),
		geo.NewHTTPProvider(cfg.GeoProviderURL),
		geo.Options{
			Enabled:           cfg.GeoLookupEnabled,
			SuccessTTL:        time.Duration(cfg.GeoSuccessTTLHours) * time.Hour,
			FailureTTL:        time.Duration(cfg.GeoFailureTTLMinutes) * time.Minute,
			LogSuppressWindow: time.Duration(cfg.GeoLogSuppressSeconds) * time.Second,
		},
	)

	return monitor.NewEngine(monitor.Options{
		Params: monitor.Params{
			Users:                cfg.MonitorUsers,
			IdleThresholdMinutes: cfg.IdleThresholdMinutes,
			Tolerance:            cfg.DisconnectTolerance(),
			TrackDisconnects:     cfg.TrackDisconnects,
		},
		SecurityInterval: cfg.SecurityPollInterval(),
		MaxEvents:        cfg.SecurityMaxEvents,
		Sessions:         collectors.NewSessionSource(),
		Security:         collectors.NewSecuritySource(),
		Geo:              cache,
		Health:           hm,
		Journal:          jr,
	})
}

func openJournal(cfg *config.Config) *journal.Journal {
	if !cfg.JournalEnabled {
		return nil
	}
	jr, err := journal.Open(filepath.Join(cfg.DataDir, journalFileName))
	if err != nil {
		log.Warn("session journal disabled", logging.KeyError, err.Error())
		return nil
	}
	return jr
}

// startPanel connects to Discord and starts the tick loop. The loop's
// result is delivered on loopErr.
func startPanel(cfg *config.Config) (*panelComponents, error) {
	token := secmem.NewToken(cfg.DiscordToken)
	cfg.DiscordToken = ""

	hm := health.NewMonitor()
	renderer := panel.NewRenderer(panel.Options{Aliases: cfg.UserAliases})
	jr := openJournal(cfg)

	bot, err := discord.New(token, discord.Options{
		ChannelID:     cfg.ChannelID,
		GuildID:       cfg.GuildID,
		AdminRoleID:   cfg.AdminRoleID,
		SlashCommands: cfg.SlashCommands,
	})
	if err != nil {
		token.Zero()
		jr.Close()
		return nil, err
	}

	pub := publisher.New(bot.Messages(), store.NewStateStore(filepath.Join(cfg.DataDir, stateFileName)), func() panel.Document {
		return renderer.Render(nil, time.Now())
	})
	hb := heartbeat.New(heartbeat.Options{
		Interval:  cfg.PollInterval(),
		Engine:    buildEngine(cfg, hm, jr),
		Renderer:  renderer,
		Publisher: pub,
		Health:    hm,
	})
	bot.SetHandler(hb)

	ctx, cancel := context.WithCancel(context.Background())
	comps := &panelComponents{
		token:   token,
		bot:     bot,
		hb:      hb,
		journal: jr,
		cancel:  cancel,
		loopErr: make(chan error, 1),
	}

	if err := bot.Open(ctx); err != nil {
		cancel()
		token.Zero()
		jr.Close()
		return nil, err
	}

	if addr := strings.TrimSpace(cfg.StatusListenAddr); addr != "" {
		srv, err := statusapi.Listen(addr, statusapi.NewRouter(statusapi.Deps{Health: hm, Panel: hb}))
		if err != nil {
			log.Warn("status endpoint disabled", logging.KeyError, err.Error())
		} else {
			comps.status = srv
		}
	}

	jr.Record(journal.EventMonitorStart, "", map[string]any{
		"version": version,
		"users":   cfg.MonitorUsers,
	})
	go func() {
		comps.loopErr <- hb.Start(ctx)
	}()
	return comps, nil
}

// shutdownPanel stops the loop (which removes the panel message), then
// disconnects. It never blocks longer than stopTimeout.
func shutdownPanel(c *panelComponents) {
	c.hb.Stop()
	select {
	case <-c.hb.Done():
	case <-time.After(stopTimeout):
		log.Warn("tick loop did not stop in time")
	}
	c.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c.status != nil {
		if err := c.status.Shutdown(ctx); err != nil {
			log.Warn("status endpoint shutdown", logging.KeyError, err.Error())
		}
	}
	if err := c.bot.Close(); err != nil {
		log.Warn("discord disconnect", logging.KeyError, err.Error())
	}
	c.token.Zero()
	c.journal.Record(journal.EventMonitorStop, "", nil)
	if err := c.journal.Close(); err != nil {
		log.Warn("journal close", logging.KeyError, err.Error())
	}
	log.Info("session panel stopped")
}
