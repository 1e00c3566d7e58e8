package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/export"
	"bookcatalog/internal/httpx"
)

type serveCmd struct {
	Addr           string   `default:":8080" env:"APP_ADDR" help:"Listen address."`
	AllowedOrigins []string `default:"*" env:"CORS_ALLOWED_ORIGINS" help:"Origins allowed by CORS."`
	RateLimitRPS   float64  `default:"100" env:"RATE_LIMIT_RPS" name:"rate-limit-rps" help:"Requests per second per client."`
	RateLimitBurst int      `default:"200" env:"RATE_LIMIT_BURST" help:"Burst size per client."`
	MaxBodyBytes   int64    `default:"1048576" env:"MAX_BODY_BYTES" help:"Maximum request body size."`
	EnableHSTS     bool     `env:"ENABLE_HSTS" name:"enable-hsts" help:"Send Strict-Transport-Security."`
}

func (c *serveCmd) Run(g *Globals, a *app) error {
	svc, ds, err := openService(g, a)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close(context.Background()) }()

	srv := &http.Server{
		Addr:         c.Addr,
		Handler:      c.router(a, svc, ds),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", zap.String("addr", c.Addr), zap.String("backend", g.Backend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-a.ctx.Done():
	}

	a.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func (c *serveCmd) router(a *app, svc *catalog.Service, ds *datastore) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		pctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ds.ping(pctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("datastore not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	catalog.NewHTTPHandler(svc).Register(mux)

	exportHandler := export.NewHTTPHandler(ds, catalog.AuthorsCollection, catalog.BooksCollection)
	mux.HandleFunc("GET /v1/export", exportHandler.Export)

	rateLimiter := httpx.NewRateLimitMiddleware(a.ctx, httpx.RateLimitConfig{
		RPS:      c.RateLimitRPS,
		Burst:    c.RateLimitBurst,
		Logger:   a.logger,
		Rejected: a.http.RateLimited(),
	})

	return httpx.Chain(mux,
		httpx.TracingMiddleware(otel.Tracer("bookcatalog/http")),
		httpx.RequestIDMiddleware,
		httpx.AccessLogMiddleware(a.logger),
		httpx.RecoveryMiddleware(a.logger),
		httpx.SecurityHeadersMiddleware(c.EnableHSTS),
		httpx.CORSMiddleware(c.AllowedOrigins),
		rateLimiter.Middleware,
		httpx.RequestSizeLimitMiddleware(c.MaxBodyBytes),
	)
}
