package domain

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidCriteria      = errors.New("invalid criteria")
	ErrWildcardRateLimited  = errors.New("wildcard subscription rate limited")
	ErrStopped              = errors.New("component stopped")
)
