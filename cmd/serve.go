// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wata-gh/prdash/internal/api"
	"github.com/wata-gh/prdash/internal/gateway"
	"github.com/wata-gh/prdash/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the interactive metrics dashboard",
	Long: `Starts a long-running HTTP server hosting the metrics dashboard.
Open the printed address in a browser, fill in a token, organization,
usernames and a date range, and click Analyze.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file if it exists.
		_ = godotenv.Load()

		logger := newLogger(cmd)

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = ":" + viper.GetString("port")
		}

		router := api.NewRouter(&api.RouterConfig{
			NewRunner: func(token string) (api.Runner, error) {
				fetcher, err := gateway.NewGitHubGateway(token, logger)
				if err != nil {
					return nil, fmt.Errorf("failed to create GitHub gateway: %w", err)
				}
				return usecase.NewAnalyzer(fetcher, logger), nil
			},
			DefaultToken: viper.GetString("default_token"),
			Logger:       logger,
		})

		srv := &http.Server{
			Addr:        addr,
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			// An analysis run proxies many GitHub calls, so responses
			// can legitimately take a while.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Printf("Starting dashboard on %s", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case <-quit:
		}

		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		log.Println("Server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (host:port); overrides PORT")

	viper.SetDefault("port", "8080")
	// PORT configures the listen port; GH_DASH_DEFAULT_TOKEN prefills the
	// dashboard's token field.
	_ = viper.BindEnv("port", "PORT")
	_ = viper.BindEnv("default_token", "GH_DASH_DEFAULT_TOKEN")
}
