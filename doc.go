// Package kad is the module root for the Kademlia DHT protocol core.
//
// The implementation lives in the dht package: routing table, iterative
// lookup state machine, RPC handlers and maintenance loops. Transport,
// persistence and identity generation are deliberately external: see
// dht.Outbox, dht.StorageAdapter and dht.Observer.
package kad
