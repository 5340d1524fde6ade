// Command coordinator runs the HITL approval service: the HTTP intake and
// chat webhooks, the watchdog scheduler, and everything they drive.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/slack-go/slack"

	"github.com/saihai-hitl/coordinator/internal/action"
	"github.com/saihai-hitl/coordinator/internal/chat"
	"github.com/saihai-hitl/coordinator/internal/checkpoint"
	"github.com/saihai-hitl/coordinator/internal/config"
	"github.com/saihai-hitl/coordinator/internal/coordinator"
	"github.com/saihai-hitl/coordinator/internal/credential"
	"github.com/saihai-hitl/coordinator/internal/demo"
	"github.com/saihai-hitl/coordinator/internal/executor"
	"github.com/saihai-hitl/coordinator/internal/httpapi"
	"github.com/saihai-hitl/coordinator/internal/logging"
	"github.com/saihai-hitl/coordinator/internal/watchdog"
	"github.com/saihai-hitl/coordinator/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logging.New(cfg.EnableDebugLogging)
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Errorw("coordinator exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlx.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	goose.SetBaseFS(migrations.Embed)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db.DB, "."); err != nil {
		return err
	}

	// Stores.
	actions := action.NewStore(db)
	checkpoints := checkpoint.NewStore(db)
	runs := executor.NewRunsStore(db)

	refreshers := map[credential.Provider]credential.Refresher{
		credential.ProviderGoogle: credential.NewGoogleRefresher(credential.GoogleOAuthConfig{
			ClientID:     cfg.GoogleOAuthClientID,
			ClientSecret: cfg.GoogleOAuthClientSecret,
		}),
	}
	credentials := credential.NewStore(db, cfg.CredentialEncryptionKey, cfg.DefaultOwnerEmail, refreshers)

	// External action executor (C2) with its per-type providers.
	email := executor.NewMockEmailProvider()

	var calendar executor.CalendarProvider
	if cfg.CalendarProvider == "google" {
		calendar = executor.NewGoogleCalendarProvider(credentials, cfg.DefaultCalendarTimezone)
	} else {
		calendar = executor.NewMockCalendarProvider()
	}

	var hr executor.HRProvider
	if cfg.HRProvider == "http" && cfg.HRAPIURL != "" {
		hr = executor.NewHTTPHRProvider(cfg.HRAPIURL)
	} else {
		hr = executor.NewMockHRProvider()
	}

	exec := executor.New(actions, runs, email, calendar, hr, executor.ProviderConfig{
		EmailProvider:           cfg.EmailProvider,
		CalendarProvider:        cfg.CalendarProvider,
		HRProvider:              cfg.HRProvider,
		HRAPIURL:                cfg.HRAPIURL,
		DefaultEmailTo:          cfg.DefaultEmailTo,
		DefaultEmailFrom:        cfg.DefaultEmailFrom,
		DefaultCalendarAttendee: cfg.DefaultCalendarAttendee,
		DefaultCalendarTZ:       cfg.DefaultCalendarTimezone,
		DefaultOwnerEmail:       cfg.DefaultOwnerEmail,
	})

	// Chat gateway (C3).
	gateway := chat.New(slack.New(cfg.SlackBotToken), cfg.ApprovalChannel, log)

	// HITL coordinator (C5).
	coord := coordinator.New(db, actions, checkpoints, exec, gateway, calendar, coordinator.CalendarHoldDefaults{
		Attendee:   cfg.DefaultCalendarAttendee,
		OwnerEmail: cfg.DefaultOwnerEmail,
		Timezone:   cfg.DefaultCalendarTimezone,
	}, log)

	// Watchdog (C6) on a plain ticker.
	wd := watchdog.New(db, watchdog.NewStore(db), actions, checkpoints, watchdogApprovals{coord: coord}, log)
	go runWatchdog(ctx, wd, cfg.GetWatchdogInterval(), log)

	// Demo driver (C7).
	demoDriver := demo.New(checkpoints, gateway, calendar, demo.Config{
		Channel:    cfg.ApprovalChannel,
		Timezone:   cfg.DefaultCalendarTimezone,
		Invitees:   cfg.DemoInvitees,
		OwnerEmail: cfg.DefaultOwnerEmail,
		Approvers:  cfg.DemoApprovers,
	}, log)

	// HTTP intake (C8).
	api := httpapi.New(coord, demoDriver, checkpoints, gateway, db, httpapi.Config{
		APIAuthToken:  cfg.APIAuthToken,
		SigningSecret: cfg.SlackSigningSecret,
		SignatureTTL:  cfg.GetSignatureTTL(),
		AllowUnsigned: cfg.SlackAllowUnsigned,
	}, log)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("coordinator listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Infow("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// runWatchdog runs one cycle immediately, then on every tick until ctx is
// cancelled. A failed cycle is logged and the next tick tries again; the
// job row itself already recorded the failure.
func runWatchdog(ctx context.Context, wd *watchdog.Runner, interval time.Duration, log logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if summary, err := wd.Run(ctx); err != nil {
			log.Warnw("watchdog cycle failed", "err", err)
		} else {
			log.Debugw("watchdog cycle finished", "job_id", summary.JobID, "actions_created", summary.ActionsCreated)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// watchdogApprovals adapts the coordinator's RequestApproval to the
// narrower shape the watchdog depends on.
type watchdogApprovals struct {
	coord *coordinator.Coordinator
}

func (w watchdogApprovals) RequestApproval(ctx context.Context, actionID int64, requestedBy, idempotencyKey, summary string) (string, error) {
	res, err := w.coord.RequestApproval(ctx, actionID, requestedBy, idempotencyKey, summary)
	if err != nil {
		return "", err
	}
	return res.ThreadID, nil
}
