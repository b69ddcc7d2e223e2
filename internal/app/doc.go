// Package app composes the node: PQL parser and extract handlers, the IPFS
// document client, the chain configuration store, the collector supervisor
// and the RPC server.
//
// Services are registered with a system.Manager and started in order:
//
//	collector  (listeners + executor pool)
//	rpc        (JSON-RPC, health, metrics, admin)
//
// and stopped in reverse, so the RPC server stops accepting admin restarts
// before the collector tears down its listeners.
package app
