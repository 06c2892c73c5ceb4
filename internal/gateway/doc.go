// Package gateway runs the public listener and keeps the published
// route table in step with configuration changes.
//
// The Gateway owns a gin engine whose NoRoute handler is the proxy
// handler, so every request path reaches the route table. The Reloader
// is the single entry point for new configurations from the file
// watcher and the admin API.
package gateway
