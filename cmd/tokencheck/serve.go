package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elixir-cloud-aai/foca-sub000/auth"
	"github.com/elixir-cloud-aai/foca-sub000/authhttp"
)

func newServeCommand() *cobra.Command {
	var (
		addr  string
		realm string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a token-protected HTTP API",
		Long: "Serve GET /whoami, which answers with the caller's validated claims.\n" +
			"GET /healthz is not protected.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg := rt.env.Config()
			if err := cfg.Validate(); err != nil {
				return err
			}
			h := newAPIHandler(rt.validator.Authenticator(cfg), rt.log, realm, rt.env.Required)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return listen(ctx, rt.log, addr, h)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address.")
	cmd.Flags().StringVar(&realm, "realm", "", "Realm advertised in WWW-Authenticate challenges.")
	return cmd
}

func newAPIHandler(authn auth.Authenticator, log *slog.Logger, realm string, required bool) http.Handler {
	protect := authhttp.New(authn,
		authhttp.WithLogger(log),
		authhttp.WithRealm(realm),
		authhttp.WithRequired(required),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /whoami", protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		claims, ok := authhttp.ClaimsFromContext(r.Context())
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"user_id": nil})
			return
		}
		_ = json.NewEncoder(w).Encode(claims)
	})))
	return mux
}

func listen(ctx context.Context, log *slog.Logger, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http.listen", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
