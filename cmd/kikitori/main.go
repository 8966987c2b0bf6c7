package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/kikitori/external/audio"
	configloader "github.com/foxseedlab/kikitori/external/config"
	"github.com/foxseedlab/kikitori/external/discord"
	"github.com/foxseedlab/kikitori/external/monitoring"
	permissionimpl "github.com/foxseedlab/kikitori/external/permission"
	repositoryimpl "github.com/foxseedlab/kikitori/external/repository"
	"github.com/foxseedlab/kikitori/external/statebus"
	transcriberimpl "github.com/foxseedlab/kikitori/external/transcriber"
	webhookimpl "github.com/foxseedlab/kikitori/external/webhook"
	"github.com/foxseedlab/kikitori/internal/config"
	discordpkg "github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/samber/do/v2"
)

const (
	discordConnectTimeout = 20 * time.Second
	shutdownTimeout       = 15 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "speech_provider", cfg.SpeechProvider, "capture_source", cfg.CaptureSource)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching discord bot")
	runBot(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	if cfg.UsesConsent() {
		repositoryimpl.RegisterDI(injector)
	}
	discord.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	permissionimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	statebus.RegisterDI(injector)
	monitoring.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func mustInvoke[T any](injector do.Injector, what string) T {
	v, err := do.Invoke[T](injector)
	if err != nil {
		slog.Error("failed to resolve "+what, "error", err)
		os.Exit(1)
	}
	return v
}

func runBot(cfg *config.Config, injector do.Injector) {
	dc := mustInvoke[discordpkg.Client](injector, "discord client")

	ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()

	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(ctx); err != nil {
		slog.Error("discord connect failed", "error", err)
		os.Exit(1)
	}
	slog.Info("startup: discord connected")

	controller := mustInvoke[*session.Controller](injector, "transcriber controller")
	commands := mustInvoke[*session.Commands](injector, "slash commands")

	if err := dc.UpsertGuildSlashCommands(cfg.DiscordGuildID, session.SlashCommandDefinitions()); err != nil {
		slog.Error("failed to upsert slash commands", "error", err, "guild_id", cfg.DiscordGuildID)
		os.Exit(1)
	}

	dc.RegisterVoiceStateUpdateHandler(commands.HandleVoiceStateUpdate)
	dc.RegisterSlashCommandHandler(commands.HandleSlashCommand)
	slog.Info("discord handlers registered", "guild_id", cfg.DiscordGuildID, "state", controller.State().String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	commands.Close()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		slog.Error("controller shutdown incomplete", "error", err)
	}
	if err := dc.Close(); err != nil {
		slog.Error("discord close failed", "error", err)
	}
	if report := injector.ShutdownWithContext(shutdownCtx); report != nil && !report.Succeed {
		slog.Error("dependency shutdown failed", "error", report.Error())
	}
}
