// Package repository defines sentinel error values shared across the
// data access layer. Handlers and the checkout orchestrator compare
// against these with errors.Is to translate failures into HTTP
// responses or rollback decisions without inspecting error strings.
package repository

import "errors"

// ErrInsufficientStock is returned by a key claim when fewer unsold
// keys exist than the requested quantity. The whole claim aborts;
// no key is left half-claimed.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrPriceUnavailable is returned when a product's authoritative
// price is missing or non-positive. The whole quote aborts, not
// just the offending line.
var ErrPriceUnavailable = errors.New("price unavailable")

// ErrNoActiveReservation is returned when an operation needs the
// buyer's active reservation and none exists.
var ErrNoActiveReservation = errors.New("no active reservation")

// ErrAlreadySettled is returned when a terminal success outcome has
// already been recorded for a payment reference. It is not an error
// to the gateway: webhook handlers must still answer 2xx so retries
// stop.
var ErrAlreadySettled = errors.New("already settled")

// ErrAlreadyReleased is returned when a terminal failure outcome has
// already been recorded for a payment reference.
var ErrAlreadyReleased = errors.New("already released")

// ErrProductNotFound is returned by catalog lookups for an unknown
// product id.
var ErrProductNotFound = errors.New("product not found")
