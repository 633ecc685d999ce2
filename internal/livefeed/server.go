package livefeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewServer serves the hub on listenAddress for the lifetime of the app
func NewServer(lc fx.Lifecycle, hub *Hub, listenAddress string, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              listenAddress,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", listenAddress)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", listenAddress, err)
			}
			logger.Info("live feed listening", zap.String("address", ln.Addr().String()))

			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("live feed server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("failed to stop live feed: %w", err)
			}
			logger.Info("live feed stopped")
			return nil
		},
	})

	return srv
}
