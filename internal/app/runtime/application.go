// Package runtime turns a loaded configuration into a running raffle daemon.
package runtime

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	app "github.com/R3E-Network/raffle/internal/app"
	"github.com/R3E-Network/raffle/internal/app/httpapi"
	"github.com/R3E-Network/raffle/internal/app/storage"
	"github.com/R3E-Network/raffle/internal/app/storage/postgres"
	"github.com/R3E-Network/raffle/internal/config"
	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/platform/migrations"
	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// minMasterKeyLen is the shortest accepted vrf master key after decoding.
const minMasterKeyLen = 16

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg    config.Config
	log    *logger.Logger
	app    *app.Application
	server *http.Server
	db     *sqlx.DB
	redis  *events.RedisPublisher
}

// NewApplication builds stores, sinks, the raffle application and the HTTP server from cfg.
func NewApplication(ctx context.Context, cfg config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("raffled")
	}
	a := &Application{cfg: cfg, log: log}

	masterKey, err := ParseMasterKey(cfg.VRF.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("RAFFLE_VRF_MASTER_KEY invalid: %w", err)
	}

	checks := map[string]httpapi.CheckFunc{}
	stores, err := a.buildStores(ctx, checks)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	var sinks []lottery.EventPublisher
	if cfg.Redis.URL != "" {
		client, err := events.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = events.NewRedisPublisher(client, cfg.Redis.Channel)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = a.redis.Ping(pingCtx)
		cancel()
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		sinks = append(sinks, a.redis)
		checks["redis"] = a.redis.Ping
		log.WithField("channel", a.redis.Channel()).Info("publishing raffle events to redis")
	}

	application, err := app.New(ctx, cfg, stores, log, app.Options{Sinks: sinks, MasterKey: masterKey})
	if err != nil {
		a.close()
		return nil, err
	}
	a.app = application

	handler, err := httpapi.NewHandler(application, httpapi.Options{
		CallbackSecret:  cfg.HTTP.CallbackSecret,
		CallbackClients: cfg.HTTP.CallbackClients,
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		RateLimitRPS:    cfg.HTTP.RateLimitRPS,
		RateLimitBurst:  cfg.HTTP.RateLimitBurst,
		Checks:          checks,
		Logger:          log.Named("http"),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	if cfg.HTTP.CallbackSecret == "" {
		log.Info("RAFFLE_CALLBACK_SECRET not set; external randomness callback disabled")
	}

	a.server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return a, nil
}

func (a *Application) buildStores(ctx context.Context, checks map[string]httpapi.CheckFunc) (storage.Stores, error) {
	dbCfg := a.cfg.Database
	if dbCfg.URL == "" {
		a.log.Warn("DATABASE_URL not set; raffle state is kept in memory and lost on restart")
		return storage.NewMemory(), nil
	}

	db, err := postgres.Open(ctx, dbCfg.URL, postgres.PoolConfig{
		MaxOpenConns:    dbCfg.MaxOpenConns,
		MaxIdleConns:    dbCfg.MaxIdleConns,
		ConnMaxLifetime: dbCfg.ConnMaxLifetime,
	})
	if err != nil {
		return storage.Stores{}, err
	}
	a.db = db

	if dbCfg.AutoMigrate {
		if err := migrations.Up(db.DB); err != nil {
			return storage.Stores{}, fmt.Errorf("migrate: %w", err)
		}
		version, dirty, err := migrations.Version(db.DB)
		if err != nil {
			return storage.Stores{}, err
		}
		a.log.WithField("version", version).WithField("dirty", dirty).Info("database schema up to date")
	}

	store := postgres.New(db)
	checks["database"] = store.Ping
	return store.Stores(), nil
}

// App returns the wired raffle application.
func (a *Application) App() *app.Application {
	return a.app
}

// Handler returns the HTTP handler served by Run.
func (a *Application) Handler() http.Handler {
	return a.server.Handler
}

// Run starts the application services and the HTTP server, blocking until ctx is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", listener.Addr().String()).Info("HTTP server listening")
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server, stops the services and closes connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	a.close()
	return errors.Join(errs...)
}

func (a *Application) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

// ParseMasterKey decodes a vrf master key given as hex, base64 or raw text, tried in that
// order. An empty value returns nil, which selects an ephemeral key.
func ParseMasterKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if decoded, err := hex.DecodeString(strings.TrimPrefix(value, "0x")); err == nil && len(decoded) >= minMasterKeyLen {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) >= minMasterKeyLen {
		return decoded, nil
	}
	if len(value) >= minMasterKeyLen {
		return []byte(value), nil
	}

	return nil, fmt.Errorf("must be at least %d bytes as raw text or hex/base64 encoding", minMasterKeyLen)
}
