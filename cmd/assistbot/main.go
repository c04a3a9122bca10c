package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"assistbot/internal/adapter/channel"
	"assistbot/internal/adapter/search"
	"assistbot/internal/adapter/weather"
	"assistbot/internal/infra/config"
	"assistbot/internal/infra/logger"
	"assistbot/internal/infra/middleware"
	"assistbot/internal/infra/tracer"
	"assistbot/internal/usecase"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "encrypt":
		if err := runEncrypt(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'assistbot --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`assistbot - Telegram assistant for weather, time and web search

USAGE:
    assistbot [COMMAND] [FLAGS]

COMMANDS:
    encrypt VALUE   Encrypt a secret for config.yaml (needs ASSISTBOT_CONFIG_KEY)
    doctor          Run health checks on your setup

    (no command) - Run the bot

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional)
    Environment: ASSISTBOT_* variables override config
    Secrets:     values prefixed with "enc:" are decrypted with ASSISTBOT_CONFIG_KEY

EXAMPLES:
    ASSISTBOT_TELEGRAM_TOKEN=... ASSISTBOT_WEATHER_API_KEY=... assistbot
    assistbot --config /etc/assistbot/config.yaml
    ASSISTBOT_CONFIG_KEY=pass assistbot encrypt 123456:ABC-token`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("ASSISTBOT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, version)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Weather
	weatherClient := weather.New(cfg.Weather, log)

	// 4. Search backend; warms up in the background.
	backend := search.NewBackend(
		search.ChromeDPLauncher(cfg.Search, log),
		log,
		search.WithResultLimit(cfg.Search.MaxResults),
		search.WithRateLimit(cfg.Search.RatePerSecond, cfg.Search.Burst),
	)
	defer backend.Close()
	backend.StartInitialize()

	// 5. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 6. Telegram
	tg := channel.NewTelegramChannel(cfg.Telegram.Token, log,
		channel.WithTelegramBaseURL(cfg.Telegram.BaseURL),
		channel.WithTelegramPollTimeout(cfg.Telegram.PollTimeout),
		channel.WithTelegramMaxConcurrent(cfg.Telegram.MaxConcurrent),
	)
	botName, err := tg.Identify(ctx)
	if err != nil {
		log.Warn("telegram getMe failed, /cmd@bot suffixes accepted from any bot", "error", err)
	}

	// 7. Dispatcher
	loc, err := time.LoadLocation(cfg.Clock.Timezone)
	if err != nil {
		return fmt.Errorf("clock: %w", err)
	}
	dispatcher := usecase.NewDispatcher(weatherClient, backend, log,
		usecase.WithBotName(botName),
		usecase.WithLocation(loc),
		usecase.WithTimeFormat(cfg.Clock.Format),
	)
	limit := middleware.ChatRateLimit(ctx, middleware.ChatRateLimitConfig{
		MessagesPerMin: cfg.Telegram.PerChatPerMin,
		BurstSize:      cfg.Telegram.PerChatBurst,
	}, log)
	handler := limit(usecase.NewMessageHandler(dispatcher, tg.Send, log))

	// 8. Start
	log.Info("assistbot starting",
		"version", version,
		"bot", botName,
		"search_engine", cfg.Search.EngineURL,
		"remote_browser", cfg.Search.RemoteURL != "",
		"timezone", loc.String(),
	)
	if err := tg.Start(ctx, handler); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := tg.Stop(stopCtx); err != nil {
		log.Error("telegram stop error", "error", err)
	}
	return nil
}

// runEncrypt prints the enc: form of a secret for pasting into config.yaml.
func runEncrypt(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("usage: assistbot encrypt VALUE")
	}
	passphrase := os.Getenv("ASSISTBOT_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("ASSISTBOT_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}

