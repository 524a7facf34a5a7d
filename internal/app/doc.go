// Package app composes the xrpldash server from its parts.
//
// The package wires the upstream connection manager, the ledger processing
// pipeline, the price services, the session registry and the websocket hub
// into one Application with a managed lifecycle. Business logic lives in
// internal/app/services/; this layer only constructs and connects.
//
//	internal/app/
//	├── application.go      # Application struct, wiring, lifecycle
//	├── domain/             # Domain models (pure data structures)
//	├── storage/            # PriceStore interface, memory and postgres impls
//	├── httpapi/            # HTTP surface: /graph, /healthz, /metrics, /ws
//	├── hub/                # Websocket fan-out and inbound routing
//	├── sessions/           # Per-client subscriber registry
//	├── services/           # prices, ledgers, clients
//	├── system/             # Service lifecycle management
//	└── metrics/            # Prometheus collectors
package app
