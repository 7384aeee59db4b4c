package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/R3E-Network/raffle/internal/app/runtime"
	"github.com/R3E-Network/raffle/internal/app/storage/postgres"
	"github.com/R3E-Network/raffle/internal/config"
	"github.com/R3E-Network/raffle/internal/httputil"
	"github.com/R3E-Network/raffle/internal/platform/migrations"
	"github.com/R3E-Network/raffle/internal/serviceauth"
	vrf "github.com/R3E-Network/raffle/packages/com.r3e.services.vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
)

func loadConfig(c *cli.Context) (config.Config, error) {
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the raffle daemon",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			daemon, err := runtime.NewApplication(ctx, cfg, log)
			if err != nil {
				return err
			}
			runErr := daemon.Run(ctx)
			if runErr != nil {
				log.WithError(runErr).Error("raffled stopped with error")
			}
			log.Info("shutting down")
			if err := daemon.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("shutdown incomplete")
			}
			return runErr
		},
	}
}

func migrateCommand() *cli.Command {
	withDB := func(c *cli.Context, fn func(db *sql.DB) error) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		db, err := postgres.Open(c.Context, cfg.Database.URL, postgres.PoolConfig{MaxOpenConns: 1})
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(db.DB)
	}

	return &cli.Command{
		Name:  "migrate",
		Usage: "database migrations",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Action: func(c *cli.Context) error {
					return withDB(c, func(db *sql.DB) error {
						if err := migrations.Up(db); err != nil {
							return err
						}
						version, _, err := migrations.Version(db)
						if err != nil {
							return err
						}
						fmt.Printf("schema at version %d\n", version)
						return nil
					})
				},
			},
			{
				Name:  "version",
				Usage: "print the applied schema version",
				Action: func(c *cli.Context) error {
					return withDB(c, func(db *sql.DB) error {
						version, dirty, err := migrations.Version(db)
						if err != nil {
							return err
						}
						fmt.Printf("version=%d dirty=%t\n", version, dirty)
						return nil
					})
				},
			},
		},
	}
}

func vrfKeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "vrf-key",
		Usage: "print the vrf public key derived from RAFFLE_VRF_MASTER_KEY",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			masterKey, err := runtime.ParseMasterKey(cfg.VRF.MasterKey)
			if err != nil {
				return fmt.Errorf("RAFFLE_VRF_MASTER_KEY invalid: %w", err)
			}
			if masterKey == nil {
				return fmt.Errorf("RAFFLE_VRF_MASTER_KEY is not set")
			}
			signer, err := vrf.NewSigner(masterKey, cfg.VRF.KeyVersion)
			if err != nil {
				return err
			}
			public, err := signer.PublicKey()
			if err != nil {
				return err
			}
			fmt.Println(public)
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint a service token for the randomness callback",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "service", Usage: "service id placed in the token", Required: true},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: time.Hour},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			gen, err := serviceauth.NewTokenGenerator([]byte(cfg.HTTP.CallbackSecret), c.String("service"), c.Duration("ttl"))
			if err != nil {
				return fmt.Errorf("RAFFLE_CALLBACK_SECRET: %w", err)
			}
			token, err := gen.GenerateToken()
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

var serverFlag = &cli.StringFlag{
	Name:    "server",
	Usage:   "base URL of a running raffled",
	Value:   "http://localhost:8080",
	EnvVars: []string{"RAFFLE_SERVER"},
}

func newClient(c *cli.Context) (*httputil.ServiceClient, error) {
	return httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: c.String("server"),
		Timeout: 10 * time.Second,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the current round of a running daemon",
		Flags: []cli.Flag{serverFlag},
		Action: func(c *cli.Context) error {
			client, err := newClient(c)
			if err != nil {
				return err
			}
			resp, err := client.Get(c.Context, "/v1/raffle")
			if err != nil {
				return err
			}
			var snapshot map[string]any
			if err := httputil.DecodeResponse(resp, &snapshot); err != nil {
				return err
			}
			return printJSON(snapshot)
		},
	}
}

func enterCommand() *cli.Command {
	return &cli.Command{
		Name:      "enter",
		Usage:     "enter the current round",
		ArgsUsage: "<participant>",
		Flags: []cli.Flag{
			serverFlag,
			&cli.Int64Flag{Name: "amount", Usage: "payment; defaults to the entrance fee"},
		},
		Action: func(c *cli.Context) error {
			participant := c.Args().First()
			if participant == "" {
				return cli.Exit("participant is required", 2)
			}
			client, err := newClient(c)
			if err != nil {
				return err
			}

			amount := c.Int64("amount")
			if amount == 0 {
				resp, err := client.Get(c.Context, "/v1/raffle/entrance-fee")
				if err != nil {
					return err
				}
				var fee struct {
					EntranceFee int64 `json:"entrance_fee"`
				}
				if err := httputil.DecodeResponse(resp, &fee); err != nil {
					return err
				}
				amount = fee.EntranceFee
			}

			resp, err := client.Do(c.Context, http.MethodPost, "/v1/raffle/enter", map[string]any{
				"participant": participant,
				"amount":      amount,
			})
			if err != nil {
				return err
			}
			var out map[string]any
			if err := httputil.DecodeResponse(resp, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func fulfillCommand() *cli.Command {
	return &cli.Command{
		Name:      "fulfill",
		Usage:     "deliver random words to a pending request through the authenticated callback",
		ArgsUsage: "<request-id> <word>...",
		Flags: []cli.Flag{
			serverFlag,
			&cli.StringFlag{Name: "service", Usage: "service id placed in the callback token", Required: true},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: time.Minute},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.Exit("request id and at least one random word are required", 2)
			}
			requestID, err := strconv.ParseUint(c.Args().First(), 10, 64)
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid request id %q", c.Args().First()), 2)
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.HTTP.CallbackSecret == "" {
				return fmt.Errorf("RAFFLE_CALLBACK_SECRET is not set")
			}
			client, err := httputil.NewServiceClient(httputil.ServiceClientConfig{
				Secret:    []byte(cfg.HTTP.CallbackSecret),
				ServiceID: c.String("service"),
				TokenTTL:  c.Duration("ttl"),
				BaseURL:   c.String("server"),
				Timeout:   10 * time.Second,
			})
			if err != nil {
				return err
			}

			resp, err := client.Do(c.Context, http.MethodPost, "/v1/raffle/fulfill", map[string]any{
				"request_id":   requestID,
				"random_words": c.Args().Tail(),
			})
			if err != nil {
				return err
			}
			var out map[string]any
			if err := httputil.DecodeResponse(resp, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}
