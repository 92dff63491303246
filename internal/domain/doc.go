// Package domain defines the core types flowing through the fan-out
// pipeline: events, subscription criteria with their normalization and
// matching rules, session metadata, the transport contract, and the
// sentinel errors shared across packages. Interfaces live on the consumer
// side; this package has no dependencies on the rest of the module.
package domain
