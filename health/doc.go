// Package health describes the health of the gateway as a tree of Status
// values: one for the bridge, with one sub-status per connection leg.
//
// Three states are reported:
//   - healthy: the leg is streaming
//   - degraded: the leg is faulted or reconnecting; the process is still working on it
//   - unhealthy: the bridge has terminated
//
// Error text placed in a Status goes through FromError, which strips URLs,
// addresses, paths and credentials before the status is served over HTTP.
package health
