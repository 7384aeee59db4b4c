// Package app composes the raffle daemon.
//
// # Components
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── adapters.go         # Bridges between the engine, coordinator and keeper
//	├── storage/            # Store bundle, in-memory and postgres backends
//	├── httpapi/            # HTTP API handlers and routing
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # Config to running HTTP server
//	└── system/             # Service lifecycle manager
//
// # Flow
//
// The keeper polls the engine's CheckUpkeep and calls PerformUpkeep when a round is due.
// The engine asks the vrf coordinator for random words and locks the round. The coordinator
// answers from its Run loop through FulfillRandomWords, which picks the winner and pays out
// through the gasbank inside the store's settlement transaction. Committed events go to the
// in-process broker and any configured sinks.
package app
