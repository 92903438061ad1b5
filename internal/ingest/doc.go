// Package ingest runs the single telemetry ingestion goroutine.
//
// The loop pulls raw datagrams from the transport listener, mirrors each
// one to the optional TCP relay, normalizes it and feeds the device
// registry. Because the registry and everything below it is
// single-writer by contract, this loop is the one place that contract is
// enforced: no other goroutine may call CreateOrUpdate. Out-of-band work
// (inbound broker commands, maintenance) reaches the registry through
// Do, which queues closures onto the same goroutine.
//
// Malformed datagrams and relay client faults are logged and counted,
// never fatal. The loop exits on context cancellation or when the packet
// source closes.
package ingest
