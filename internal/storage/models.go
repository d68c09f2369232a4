package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FloorSample is one tend-cycle observation of the floor price.
type FloorSample struct {
	Bucket      time.Time
	FloorQuote  decimal.Decimal
	FloorBase   decimal.Decimal
	DeltaPct    decimal.Decimal
	Repriced    bool
	OfferAmount decimal.Decimal
	Status      string
	Error       *string
	CreatedAt   time.Time
}

// HarvestReport is a persisted reconciliation outcome.
type HarvestReport struct {
	ID               uuid.UUID
	HarvestedAt      time.Time
	Profit           decimal.Decimal
	Loss             decimal.Decimal
	DebtPayment      decimal.Decimal
	Freed            decimal.Decimal
	IdleBalance      decimal.Decimal
	OutstandingLoans decimal.Decimal
	TotalDebt        decimal.Decimal
	CreatedAt        time.Time
}

// OfferEvent records a create or cancel against the lending protocol.
type OfferEvent struct {
	ID         int64
	OccurredAt time.Time
	Action     string
	Amount     decimal.Decimal
	Expiration *time.Time
	OfferHash  string
	CreatedAt  time.Time
}

// Offer event actions.
const (
	OfferActionCreate = "create"
	OfferActionCancel = "cancel"
)

// Attestation mirrors the operator-pushed indexer figures.
type Attestation struct {
	ThirtyDayProfitPotential decimal.Decimal
	OffersLastMonth          int64
	RemovesLastMonth         int64
	OutstandingLoans         decimal.Decimal
	AttestedAt               time.Time
}

// Params is the admin-settable strategy configuration.
type Params struct {
	ExpirationWindow time.Duration
	AllowedDelta     decimal.Decimal
	CollateralRatio  decimal.Decimal
	OffersEnabled    bool
	UpdatedAt        time.Time
}
