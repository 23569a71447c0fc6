// Package counter implements the atomic usage counter stores behind the usage
// limiter: a Redis store whose increment and dedupe happen in one Lua script,
// and an in-memory store for single-instance deployments and tests.
package counter
