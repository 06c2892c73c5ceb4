// Package qos guards downstream calls with a timeout and a circuit
// breaker kept per (route, endpoint) pair.
//
// A circuit starts Closed. Consecutive failures reaching the route's
// threshold open it; while Open, calls are rejected without reaching the
// downstream. The first call after the break duration moves it to
// HalfOpen and runs as the only probe; concurrent calls are rejected
// until the probe finishes. Enough successful probes close the circuit,
// a failed probe opens it again.
//
// Routes without a QoS policy bypass the governor. Routes whose policy
// sets no failure threshold only get the timeout.
package qos
