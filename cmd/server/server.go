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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/steveyiyo/voice-relay/internal/auth"
	"github.com/steveyiyo/voice-relay/internal/config"
	"github.com/steveyiyo/voice-relay/internal/core/gemini"
	"github.com/steveyiyo/voice-relay/internal/core/relay"
	"github.com/steveyiyo/voice-relay/internal/core/switcher"
	"github.com/steveyiyo/voice-relay/internal/core/timer"
	"github.com/steveyiyo/voice-relay/internal/core/wss"
	h "github.com/steveyiyo/voice-relay/internal/http"
	"github.com/steveyiyo/voice-relay/internal/logging"
	"github.com/steveyiyo/voice-relay/internal/metrics"
	"github.com/steveyiyo/voice-relay/internal/repo/memory"
	"github.com/steveyiyo/voice-relay/pkg/ws"
)

const shutdownGrace = 10 * time.Second

var envFile string

func main() {
	root := &cobra.Command{
		Use:   "voice-relay",
		Short: "Relay telephony audio to realtime AI voice providers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				return godotenv.Load(envFile)
			}
			_ = godotenv.Load()
			return nil
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env when present)")

	serve := serveCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve, providersCmd(), probeCmd(), tokenCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func load() (config.Config, zerolog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, zerolog.Nop(), func() {}, err
	}
	log, closer := logging.New(cfg.Log)
	return cfg, log, func() { _ = closer.Close() }, nil
}

func registry(cfg config.Config, log zerolog.Logger) (*switcher.Registry, error) {
	return switcher.FromConfig(cfg.Providers, func() switcher.WssClient {
		return wss.New(log.With().Str("component", "wss").Logger())
	}, log)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := load()
			if err != nil {
				return err
			}
			defer closeLog()

			reg, err := registry(cfg, log)
			if err != nil {
				return err
			}
			if len(reg.Providers()) == 0 {
				log.Warn().Msg("no provider configured; every stream will end with provider_not_registered")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if pc := cfg.Providers["google"]; pc.APIKey != "" {
				go probeGemini(ctx, pc, log)
			}

			m := metrics.New("")
			repo := memory.NewSessionRepo()
			hub := ws.NewHub()
			mgr := relay.NewManager(reg, timer.NewManager(), repo, m, log, relay.Options{
				InactivityTimeout:    cfg.InactivityTimeout,
				ConnectTimeout:       cfg.ConnectTimeout,
				TranscodeTimeout:     cfg.TranscodeTimeout,
				TranscodeConcurrency: cfg.TranscodeConcurrency,
				FrameBuffer:          cfg.FrameBuffer,
			})

			srv := &http.Server{
				Addr: ":" + cfg.Port,
				Handler: h.NewRouter(h.Deps{
					Config:   cfg,
					Registry: reg,
					Relay:    mgr,
					Repo:     repo,
					Hub:      hub,
					Metrics:  m,
					Log:      log,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Str("public", cfg.BaseURL()).Msg("listening")
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = srv.Shutdown(sctx)
			if err := mgr.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("sessions still open at deadline")
				hub.CloseAll("shutdown")
			}
			return nil
		},
	}
}

func probeGemini(ctx context.Context, pc config.ProviderConfig, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	p, err := gemini.New(ctx, pc.APIKey, "")
	if err != nil {
		log.Warn().Err(err).Msg("gemini probe")
		return
	}
	model := pc.Model
	if model == "" {
		model = switcher.DefaultGeminiModel
	}
	info, err := p.CheckLive(ctx, model)
	if err != nil {
		log.Warn().Err(err).Str("model", model).Msg("gemini live model unavailable")
		return
	}
	log.Info().Str("model", info.Name).Int32("input_token_limit", info.InputTokenLimit).Msg("gemini live model ok")
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the providers the current configuration registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := load()
			if err != nil {
				return err
			}
			defer closeLog()
			reg, err := registry(cfg, zerolog.Nop())
			if err != nil {
				return err
			}
			for _, p := range reg.Providers() {
				a, _ := reg.ProviderAdapter(p)
				ep, _ := reg.Endpoint(p)
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-36s in=%s out=%s\n", p, ep.Model, a.InputFormat(), a.OutputFormat())
			}
			log.Debug().Int("count", len(reg.Providers())).Msg("providers listed")
			return nil
		},
	}
}

func probeCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the Gemini key and that the model serves the Live API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pc := cfg.Providers["google"]
			if pc.APIKey == "" {
				return errors.New("GEMINI_API_KEY is not set")
			}
			if model == "" {
				model = pc.Model
			}
			if model == "" {
				model = switcher.DefaultGeminiModel
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			p, err := gemini.New(ctx, pc.APIKey, "")
			if err != nil {
				return err
			}
			info, err := p.CheckLive(ctx, model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) live=%v input_token_limit=%d\n", info.Name, info.DisplayName, info.Live, info.InputTokenLimit)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model to check (default GEMINI_LIVE_MODEL)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var provider string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token SESSION_ID",
		Short: "Issue a stream token for a session id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			signer := auth.NewSigner(cfg.JWTSecret, ttl)
			if !signer.Enabled() {
				return errors.New("JWT_SECRET is not set; stream auth is disabled")
			}
			tok, exp, err := signer.Issue(args[0], provider)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider claim")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}
