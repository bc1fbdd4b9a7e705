package models

import (
	"errors"
	"fmt"
)

var (
	ErrRouteNotFound         = errors.New("route not found")
	ErrBidNotFound           = errors.New("bid not found")
	ErrRequestNotFound       = errors.New("delivery request not found")
	ErrAccessDenied          = errors.New("actor is not authorized for this resource")
	ErrDuplicatePendingBid   = errors.New("customer already has a pending bid on this route")
	ErrRouteNotBiddable      = errors.New("route is not open for bidding")
	ErrConflict              = errors.New("route has active bids")
	ErrInvalidGeometry       = errors.New("polyline cannot be decoded or has fewer than two points")
	ErrDependencyUnavailable = errors.New("external collaborator unavailable")
)

// ValidationError names the input field that is missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError carries the current and requested states so callers
// can report exactly which transition was refused.
type InvalidTransitionError struct {
	Entity    string
	From      string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.Requested)
}

func NewBidTransitionError(from, requested BidStatus) *InvalidTransitionError {
	return &InvalidTransitionError{Entity: "bid", From: string(from), Requested: string(requested)}
}

func NewRouteTransitionError(from, requested RouteStatus) *InvalidTransitionError {
	return &InvalidTransitionError{Entity: "route", From: string(from), Requested: string(requested)}
}
