// Package loadbalancer selects one endpoint of a service per request.
//
// Three strategies are supported:
//   - None: always the first endpoint.
//   - RoundRobin: a per-route counter advanced with a single atomic add.
//   - LeastConnection: the endpoint with the fewest in-flight calls on the
//     route, ties going to the earliest endpoint.
//
// Every selection returns a Lease. Callers must Release it once the call
// has finished on any path; releasing more than once is a no-op.
package loadbalancer
