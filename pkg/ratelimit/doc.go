// Package ratelimit provides per-key admission control over a rolling
// window.
//
// Two backends implement Backend:
//
//   - Limiter keeps an exact sliding log of reservation timestamps in
//     process memory.
//   - RedisLimiter keeps the same log as a Redis sorted set and evaluates
//     each reservation in a Lua script, so replicas share one budget.
//
// Within any window of the configured length a key never accepts more
// reservations than its limit. TryReserve returns a Reservation, and
// Release gives back exactly that slot. A reservation that has already
// expired is not released again. Whether failures are released is decided
// by the caller (see selector.WithReleaseOnFailure).
package ratelimit
