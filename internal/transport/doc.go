// Package transport carries telemetry between the gateway mesh and the
// rest of Gray Mesh Core.
//
// Three pieces, all independent:
//
//   - Listener: joins the gateway multicast group (224.0.0.50:9898) and
//     delivers raw datagrams on a bounded channel for the ingest loop.
//   - Sender: unicast UDP command writer, injected into the device
//     registry as the gateway command sender.
//   - Relay: optional TCP fan-out that mirrors every datagram to
//     connected consumers as newline-delimited JSON, so secondary tools
//     can tap the telemetry stream without joining the multicast group
//     themselves.
//
// The relay is the only component with internal locking: its connection
// set is shared between the accept loop and the ingest goroutine's
// Broadcast calls. Failing consumers are dropped on write error and
// surfaced through a bounded failure queue rather than an error return,
// keeping the broadcast path non-blocking.
package transport
