package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/chatstream/pkg/config"
	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/logger"
	"github.com/papercomputeco/chatstream/proxy"
)

const serveLongDesc string = `Run the chatstream server.

Serves the chat page on every path and streams answers from the
completion API on POST /api/sse/. Configuration is read from the
--config TOML file, a .env file and the environment; flags override
all of them. When a config file is given it is watched, and changes to
the model, system prompt, keepalive and max_turns apply to new streams.

The API key is read from MISTRAL_API_KEY.

Examples:
  chatstream serve
  chatstream serve --listen :9000 --model mistral-large-latest
  chatstream serve --config chatstream.toml --db ~/.chatstream/history.db`

const serveShortDesc string = "Run the chat server"

type serveCommander struct {
	configPath string
	listen     string
	model      string
	dbPath     string
	maxTurns   int
	keepAlive  time.Duration
	debug      bool
	logFormat  string
}

func NewServeCmd() *cobra.Command {
	return newServeCmd(&serveCommander{})
}

func newServeCmd(cmder *serveCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", ":8000", "Address to listen on")
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "", "Model to request completions from")
	cmd.Flags().StringVar(&cmder.dbPath, "db", "", "Path to SQLite history archive (default: in-memory)")
	cmd.Flags().IntVar(&cmder.maxTurns, "max-turns", 0, "Previous turns sent as context (0 sends all)")
	cmd.Flags().DurationVar(&cmder.keepAlive, "keepalive", 10*time.Second, "Interval between repeated frames on idle streams")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&cmder.logFormat, "log-format", "console", "Log format: console or json")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{
		Debug:  cfg.Debug,
		JSON:   cfg.LogFormat == "json",
		Output: cmd.ErrOrStderr(),
	})
	defer func() { _ = log.Sync() }()

	if cfg.APIKey == "" {
		log.Warn("no API key configured, completions will fail",
			zap.String("env", config.EnvAPIKey),
		)
	}

	log.Info("chatstream starting",
		zap.String("listen", cfg.Listen),
		zap.String("model", cfg.Model),
		zap.String("base_url", cfg.BaseURL),
		zap.Duration("keepalive", cfg.KeepAlive.Duration),
		zap.Int("max_turns", cfg.History.MaxTurns),
		zap.Bool("debug", cfg.Debug),
	)

	completer := llm.NewMistralCompleter(cfg.APIKey, cfg.BaseURL, log)

	p, err := proxy.New(proxy.Config{
		ListenAddr: cfg.Listen,
		DBPath:     cfg.History.DBPath,
		Settings:   cfg.ChatSettings(),
	}, completer, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := p.Run(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", zap.Int64("active_streams", p.ActiveStreams()))
		return p.Shutdown(context.Background())
	})

	if c.configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, c.configPath, log, func(next *config.Config) {
				c.applyFlags(cmd, next)
				p.Reconfigure(next.ChatSettings())
			})
		})
	}

	return g.Wait()
}

// loadConfig reads the configuration and applies the flags set on the command
// line on top of it.
func (c *serveCommander) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}

	c.applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag given explicitly.
func (c *serveCommander) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("listen") {
		cfg.Listen = c.listen
	}
	if flags.Changed("model") {
		cfg.Model = c.model
	}
	if flags.Changed("db") {
		cfg.History.DBPath = c.dbPath
	}
	if flags.Changed("max-turns") {
		cfg.History.MaxTurns = c.maxTurns
	}
	if flags.Changed("keepalive") {
		cfg.KeepAlive.Duration = c.keepAlive
	}
	if flags.Changed("debug") {
		cfg.Debug = c.debug
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = c.logFormat
	}
}
