package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/longkey1/llmrelay/internal/config"
	"github.com/longkey1/llmrelay/internal/logger"
	"github.com/longkey1/llmrelay/internal/relay"
	"github.com/longkey1/llmrelay/internal/version"
)

const shutdownTimeout = 10 * time.Second

var listenPort int

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the relay server.

The relay accepts POST /chat/{provider} with a JSON body of the form
{"messages":[{"role":"user","content":"..."}],"model":"gptTurbo"} and answers
with a text/event-stream of {"content":"..."} and {"error":"..."} events,
always ending with "data: [DONE]".

Providers: gpt (OpenAI), claude (Anthropic), gemini (Google).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cmd.Flags().Changed("port") {
			cfg.ListenPort = listenPort
		}
		if verbose {
			cfg.LogLevel = "debug"
		}

		idleTimeout, err := cfg.GetIdleTimeout()
		if err != nil {
			return err
		}

		log := logger.New(cfg.LogLevel)
		if log.IsLevelEnabled(logrus.DebugLevel) {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}

		registry := newRegistry(cfg)
		srv := &http.Server{
			Addr:              cfg.ListenAddr(),
			Handler:           relay.NewRouter(relay.NewHandler(registry, log, idleTimeout), log),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.WithFields(logrus.Fields{
				"addr":         srv.Addr,
				"providers":    registry.Names(),
				"idle_timeout": idleTimeout.String(),
				"version":      version.Short(),
			}).Info("relay listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&listenPort, "port", "p", config.DefaultListenPort, "port to listen on (overrides listen_port)")
}
