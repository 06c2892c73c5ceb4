// Package health provides liveness and readiness endpoints.
//
// Liveness only reports that the process serves HTTP. Readiness runs
// every registered check; the gateway registers one that fails until a
// route table has been published and one per external dependency.
//
//	checker := health.NewChecker(version)
//	checker.RegisterCheck("routes", health.RouteTableCheck(store))
//	mux.Handle("/readyz", checker.ReadinessHandler())
package health
