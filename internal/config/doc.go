// Package config provides the gateway configuration model and its
// loading, validation and hot-reload machinery.
//
// Configuration files are YAML (default) or TOML (".toml" extension).
// Both support ${VAR} and ${VAR:-default} environment substitution:
//
//	apiVersion: routegw.io/v1
//	kind: Gateway
//	metadata:
//	  name: edge
//	spec:
//	  routes:
//	    - name: orders
//	      upstreamPathTemplate: /api/orders/{id}
//	      downstreamPathTemplate: /orders/{id}
//	      serviceName: orders
//	      loadBalancer: RoundRobin
//
// Validate runs struct-tag validation (go-playground/validator) and the
// semantic checks that struct tags cannot express, such as unique route
// names and the placeholder invariant between upstream and downstream
// templates. Watcher reloads the file on change and hands every valid
// configuration to a callback.
package config
