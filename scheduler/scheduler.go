package scheduler

// Package scheduler provides scheduled job management for the gateway.
// It handles:
// - Periodic quote fanout to subscribed stream clients
// - Expired entry cleanup for the in-memory cache
//
// The main scheduler is implemented in jobs.go
