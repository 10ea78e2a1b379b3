// Package server hosts the Fiber admin service that exposes the configured
// caches over HTTP. The router attaches recovery and request-id middleware,
// serves entry reads and writes under /caches/:name/*, and leaves the /-/
// diagnostics namespace to the routes package so operational endpoints can
// evolve without touching the data path.
package server
