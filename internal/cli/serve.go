package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dhs-api/internal/api"

	"github.com/spf13/cobra"
)

var (
	port string
	warm bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, indicators, loader, err := services()
		if err != nil {
			return err
		}
		defer loader.Close()

		if port != "" {
			cfg.Server.Port = port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if warm {
			if err := loader.Warm(ctx, cfg.DefaultSurvey); err != nil {
				log.Printf("Warm-up of %s failed: %v", cfg.DefaultSurvey, err)
			}
		}

		handler := api.NewHandler(cfg, indicators, loader)
		srv := &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           api.NewRouter(cfg, handler),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Printf("Starting %s on http://localhost:%s", cfg.API.Title, cfg.Server.Port)
			log.Printf("CORS enabled for: %v", cfg.Server.CORSOrigins)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&port, "port", "p", "", "port to listen on (default from config or $PORT)")
	serveCmd.Flags().BoolVar(&warm, "warm", false, "load every dataset of the default survey before serving")
}
