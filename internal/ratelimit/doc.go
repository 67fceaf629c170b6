// Package ratelimit is per-client-IP token bucket limiting for a single
// instance. The site runs one limiter over every route and a stricter one
// in front of the endpoints that do outbound work or render images.
//
// State is in memory and not shared between instances, so this is a
// guard against a single noisy client and not against distributed load.
package ratelimit
