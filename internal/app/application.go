package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/raffle/internal/app/storage"
	"github.com/R3E-Network/raffle/internal/app/system"
	"github.com/R3E-Network/raffle/internal/config"
	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/gasbank"
	automation "github.com/R3E-Network/raffle/packages/com.r3e.services.automation/service"
	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	vrf "github.com/R3E-Network/raffle/packages/com.r3e.services.vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Options tune application construction. The zero value is production wiring.
type Options struct {
	// Clock overrides the engine and coordinator time source.
	Clock func() time.Time
	// Sinks receive every committed event in addition to the in-process broker.
	Sinks []lottery.EventPublisher
	// HistorySize bounds the broker's recent event buffer.
	HistorySize int
	// MasterKey is the decoded vrf master key. When nil the configured key is used as raw bytes.
	MasterKey []byte
}

// Application ties the raffle components together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Raffle *lottery.Service
	VRF    *vrf.Coordinator
	Bank   *gasbank.Manager
	Events *events.Broker
	// Keeper is nil when the keeper is disabled.
	Keeper *automation.Keeper
}

// New builds a fully wired application over stores.
func New(ctx context.Context, cfg config.Config, stores storage.Stores, log *logger.Logger, opts Options) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if stores.Rounds == nil || stores.Ledger == nil || stores.Requests == nil {
		return nil, fmt.Errorf("all stores are required")
	}

	masterKey := opts.MasterKey
	if masterKey == nil {
		masterKey = []byte(cfg.VRF.MasterKey)
	}
	signer, err := vrf.NewSigner(masterKey, cfg.VRF.KeyVersion)
	if err != nil {
		return nil, fmt.Errorf("vrf signer: %w", err)
	}
	if signer.Ephemeral() {
		log.Warn("RAFFLE_VRF_MASTER_KEY not set; using an ephemeral vrf key that changes on restart")
	}
	coord := vrf.New(vrf.Config{
		FulfilDelay:  cfg.VRF.FulfilDelay,
		PollInterval: cfg.VRF.PollInterval,
	}, signer, stores.Requests, log.Named("vrf"))

	bank := gasbank.NewManager(stores.Ledger, log.Named("gasbank"))
	broker := events.NewBroker(opts.HistorySize)
	sinks := append([]lottery.EventPublisher{broker}, opts.Sinks...)
	publisher := events.NewMulti(log.Named("events"), sinks...)

	engineOpts := []lottery.Option{lottery.WithPublisher(publisher)}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, lottery.WithClock(opts.Clock))
		coord.WithClock(opts.Clock)
	}
	raffle, err := lottery.New(ctx, cfg.EngineConfig(), stores.Rounds, randomnessProvider{coord: coord}, bank,
		log.Named("lottery"), engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("raffle engine: %w", err)
	}
	coord.WithConsumer(randomnessConsumer{raffle: raffle})

	application := &Application{
		manager: system.NewManager(),
		log:     log,
		Raffle:  raffle,
		VRF:     coord,
		Bank:    bank,
		Events:  broker,
	}

	if err := application.manager.Register(newCoordinatorService(coord)); err != nil {
		return nil, err
	}

	if cfg.Keeper.Enabled {
		keeper, err := automation.New(automation.Config{
			Name:       "raffle",
			Schedule:   cfg.Keeper.Schedule,
			StaleAfter: cfg.Keeper.StaleAfter,
		}, raffleUpkeep(raffle), log.Named("automation"))
		if err != nil {
			return nil, fmt.Errorf("keeper: %w", err)
		}
		application.Keeper = keeper
		if err := application.manager.Register(system.FuncService{
			ServiceName: "keeper",
			StartFunc:   keeper.Start,
			StopFunc: func(context.Context) error {
				keeper.Stop()
				return nil
			},
		}); err != nil {
			return nil, err
		}
	} else {
		log.Warn("keeper disabled; upkeep must be triggered through the API")
	}

	return application, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// coordinatorService restores pending requests and runs the delivery loop.
type coordinatorService struct {
	coord  *vrf.Coordinator
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newCoordinatorService(coord *vrf.Coordinator) *coordinatorService {
	return &coordinatorService{coord: coord}
}

func (s *coordinatorService) Name() string { return "vrf-coordinator" }

func (s *coordinatorService) Start(ctx context.Context) error {
	if err := s.coord.Start(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.coord.Run(runCtx)
	}()

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	return nil
}

func (s *coordinatorService) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
