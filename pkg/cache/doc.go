// Package cache persists feature service layer metadata in Redis so that
// repeated sessions against the same service skip the capability probe.
//
// Within a session the prober already holds its metadata in memory; this
// package only adds a cross-session layer with a bounded TTL.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, cache.DefaultTTL)
//
//	prober := capabilities.NewProber(querier, layerURL, capabilities.WithCache(manager, token != ""))
//
// # Keys
//
// Keys are deterministic: fsdl:meta:<service path>[:param=value...][:auth].
// Tokens are never part of a key; authenticated and anonymous views of
// the same layer are stored separately because a service may expose
// different metadata to each.
//
// # Metrics
//
//   - fsdl_cache_lookups_total{scope, result} - hit, miss, expired or invalid
//   - fsdl_cache_stored_bytes_total{scope} - Bytes written
//   - fsdl_cache_errors_total{operation} - Redis failures on get, set and delete
package cache
