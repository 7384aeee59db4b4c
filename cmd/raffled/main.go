// Command raffled runs the self-operating raffle daemon and its operator tooling.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "raffled",
		Usage: "self-operating raffle daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"RAFFLE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before reading the environment",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			vrfKeyCommand(),
			tokenCommand(),
			statusCommand(),
			enterCommand(),
			fulfillCommand(),
		},
	}
}
