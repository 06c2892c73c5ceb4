// Package admin serves the administration API on a separate listener:
//
//	GET    /admin/configuration           active configuration
//	POST   /admin/configuration           validate, compile and publish a new one
//	GET    /admin/routes                  compiled routes of the current table
//	GET    /admin/circuits                circuit state per route and endpoint
//	DELETE /admin/outputcache/{region}    purge a response cache region
//	GET    /healthz, /readyz, /health     probes
//	GET    /metrics                       Prometheus metrics
package admin
