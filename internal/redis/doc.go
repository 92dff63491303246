// Package redis wraps the go-redis client used for the upstream event bus
// and instance coordination, with operation metrics attached via a hook.
package redis
