// Gaia is the gateway for the Gaia Platform.
//
// It fronts the platform's backend services, providing:
//   - Prefix-routed forwarding with byte-exact SSE relay
//   - The real-time experience WebSocket, bridged to NATS world updates
//   - Nearby-waypoint lookups for location-based experiences
//   - Aggregated health, Prometheus metrics and a Redis response cache
//
// Usage:
//
//	# Start with defaults and GAIA_* environment overrides
//	gaia run
//
//	# Start with a configuration file
//	gaia run --config /etc/gaia/config.yaml
//
//	# Check a configuration file without starting anything
//	gaia validate --config config.yaml
//
//	# Show version information
//	gaia version
package main

func main() {
	Execute()
}
