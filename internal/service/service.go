package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"loankeeper/internal/alerting"
	"loankeeper/internal/lending"
	"loankeeper/internal/scheduler"
	"loankeeper/internal/storage"
	"loankeeper/internal/strategy"
	"loankeeper/internal/vault"
)

// Stores groups the persistence interfaces the service consumes. Any field may
// be nil, in which case that concern is skipped.
type Stores struct {
	Floors       storage.FloorSampleStore
	Harvests     storage.HarvestReportStore
	OfferEvents  storage.OfferEventStore
	Attestations storage.AttestationStore
	Params       storage.ParamsStore
	Locks        storage.AdvisoryLocker
}

// Options tune the service's cadence and coordination.
type Options struct {
	TendInterval     time.Duration
	TendAlign        bool
	TendStartupDelay time.Duration
	TendLockKey      int64

	// HarvestSchedule is a cron expression evaluated in UTC.
	HarvestSchedule string
	HarvestTimeout  time.Duration
	HarvestLockKey  int64
}

// Service orchestrates the tend and harvest cycles over the strategy
// components. A single mutex serializes cycle execution; on-chain state is
// never mutated concurrently.
type Service struct {
	floor      *strategy.FloorEstimator
	profit     *strategy.ProfitEstimator
	offers     *strategy.Manager
	accountant *strategy.Accountant
	state      *strategy.State
	ledger     vault.Ledger
	stores     Stores
	notifier   alerting.Notifier
	opts       Options
	clock      func() time.Time
	logger     zerolog.Logger

	mu sync.Mutex
}

// New wires the strategy components into a runnable service.
func New(
	floor *strategy.FloorEstimator,
	profit *strategy.ProfitEstimator,
	offers *strategy.Manager,
	accountant *strategy.Accountant,
	state *strategy.State,
	ledger vault.Ledger,
	stores Stores,
	notifier alerting.Notifier,
	opts Options,
	logger zerolog.Logger,
) *Service {
	return &Service{
		floor:      floor,
		profit:     profit,
		offers:     offers,
		accountant: accountant,
		state:      state,
		ledger:     ledger,
		stores:     stores,
		notifier:   notifier,
		opts:       opts,
		clock:      time.Now,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Run blocks until ctx is cancelled, driving tend ticks on the configured
// interval and harvest runs on the cron schedule.
func (s *Service) Run(ctx context.Context) error {
	harvestCron := cron.New(cron.WithLocation(time.UTC))
	if s.opts.HarvestSchedule != "" {
		_, err := harvestCron.AddFunc(s.opts.HarvestSchedule, func() {
			if err := s.Harvest(ctx); err != nil {
				s.logger.Error().Err(err).Msg("harvest cycle failed")
			}
		})
		if err != nil {
			return fmt.Errorf("schedule harvest: %w", err)
		}
		harvestCron.Start()
		s.logger.Info().Str("schedule", s.opts.HarvestSchedule).Msg("harvest cron started")
	}

	tendLoop := scheduler.New(scheduler.Options{
		Interval:     s.opts.TendInterval,
		AlignToStart: s.opts.TendAlign,
		StartupDelay: s.opts.TendStartupDelay,
	}, s.logger)

	err := tendLoop.Run(ctx, func(ctx context.Context, tick time.Time) error {
		return s.Tend(ctx, tick)
	})

	<-harvestCron.Stop().Done()
	return err
}

// Tend runs one repricing cycle for the given interval bucket: refresh
// stored parameters and attestation, gate on profitability, and let the offer
// manager decide whether the standing offer needs replacing. Failures keep the
// previous offer live.
func (s *Service) Tend(ctx context.Context, bucket time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, acquired, err := s.tryLock(ctx, s.opts.TendLockKey)
	if err != nil {
		return err
	}
	if !acquired {
		s.logger.Info().Time("bucket", bucket).Msg("tend lock held elsewhere, skipping")
		return nil
	}
	defer unlock()

	if err := s.tend(ctx, bucket); err != nil {
		s.markErrored(ctx, bucket, err)
		s.notify(ctx, alerting.Notification{
			Kind:       alerting.KindTendFailed,
			OccurredAt: s.clock(),
			Message:    err.Error(),
		})
		return err
	}
	return nil
}

func (s *Service) tend(ctx context.Context, bucket time.Time) error {
	if err := s.refreshParams(ctx); err != nil {
		return err
	}
	inputs, err := s.loadAttestation(ctx)
	if err != nil {
		return err
	}

	floorQuote, floorBase, err := s.floor.EstimateParts(ctx)
	if err != nil {
		return err
	}

	delta := new(big.Int)
	if last := s.state.LastFloorPrice(); last != nil && last.Sign() > 0 {
		if delta, err = strategy.RelativeDelta(last, floorBase); err != nil {
			return err
		}
	}

	totalAssets, err := s.accountant.EstimatedTotalAssets(ctx, inputs)
	if err != nil {
		return err
	}

	profitable, err := s.profit.IsProfitable(ctx, inputs, totalAssets)
	if err != nil {
		return err
	}

	repriced := false
	prevOffer := s.offers.Offer()
	prevActive := s.offers.OfferState(s.clock()) == strategy.Active

	if profitable {
		// The sampled observation also prices the offer; no second estimate.
		repriced, err = s.offers.MaybeRepriceAt(ctx, floorBase)
		if err != nil {
			return err
		}
	} else {
		// Unprofitable cycles skip repricing but keep any standing offer
		// live; issuance stays enabled for when conditions recover.
		s.logger.Info().Time("bucket", bucket).Msg("cycle unprofitable, keeping standing offer")
	}

	s.recordOfferEvents(ctx, repriced, prevActive, prevOffer)
	s.recordFloorSample(ctx, bucket, floorQuote, floorBase, delta, repriced)

	s.logger.Info().
		Time("bucket", bucket).
		Str("floor_base", floorBase.String()).
		Bool("profitable", profitable).
		Bool("repriced", repriced).
		Msg("tend cycle complete")
	return nil
}

// Harvest runs one reconciliation cycle: read the vault's repayment demand,
// reconcile the position, report the split back to the ledger, and persist the
// outcome.
func (s *Service) Harvest(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.HarvestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.HarvestTimeout)
		defer cancel()
	}

	unlock, acquired, err := s.tryLock(ctx, s.opts.HarvestLockKey)
	if err != nil {
		return err
	}
	if !acquired {
		s.logger.Info().Msg("harvest lock held elsewhere, skipping")
		return nil
	}
	defer unlock()

	report, err := s.harvest(ctx)
	if err != nil {
		s.notify(ctx, alerting.Notification{
			Kind:       alerting.KindHarvestFailed,
			OccurredAt: s.clock(),
			Message:    err.Error(),
		})
		return err
	}

	if report.Loss != nil && report.Loss.Sign() > 0 {
		s.notify(ctx, alerting.Notification{
			Kind:        alerting.KindHarvestLoss,
			OccurredAt:  report.HarvestedAt,
			Profit:      decimal.NewFromBigInt(report.Profit, 0),
			Loss:        decimal.NewFromBigInt(report.Loss, 0),
			DebtPayment: decimal.NewFromBigInt(report.DebtPayment, 0),
		})
	}
	return nil
}

func (s *Service) harvest(ctx context.Context) (strategy.Report, error) {
	if err := s.refreshParams(ctx); err != nil {
		return strategy.Report{}, err
	}
	inputs, err := s.loadAttestation(ctx)
	if err != nil {
		return strategy.Report{}, err
	}

	debtOutstanding, err := s.ledger.DebtOutstanding(ctx)
	if err != nil {
		return strategy.Report{}, fmt.Errorf("read debt outstanding: %w", err)
	}

	report, err := s.accountant.Reconcile(ctx, debtOutstanding, inputs)
	if err != nil {
		return strategy.Report{}, err
	}

	if err := s.ledger.Report(ctx, report.Profit, report.Loss, report.DebtPayment); err != nil {
		return strategy.Report{}, fmt.Errorf("report to vault: %w", err)
	}

	if s.stores.Harvests != nil {
		outstanding := new(big.Int)
		if inputs.OutstandingLoans != nil {
			outstanding.Set(inputs.OutstandingLoans)
		}
		err := s.stores.Harvests.InsertHarvestReport(ctx, storage.HarvestReport{
			ID:               report.CycleID,
			HarvestedAt:      report.HarvestedAt,
			Profit:           decimal.NewFromBigInt(report.Profit, 0),
			Loss:             decimal.NewFromBigInt(report.Loss, 0),
			DebtPayment:      decimal.NewFromBigInt(report.DebtPayment, 0),
			Freed:            decimal.NewFromBigInt(report.Freed, 0),
			IdleBalance:      decimal.NewFromBigInt(report.IdleBalance, 0),
			OutstandingLoans: decimal.NewFromBigInt(outstanding, 0),
			TotalDebt:        decimal.NewFromBigInt(report.TotalDebt, 0),
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to persist harvest report")
		}
	}
	return report, nil
}

// refreshParams pulls stored admin parameters into strategy state. Unchanged
// values are not an error.
func (s *Service) refreshParams(ctx context.Context) error {
	if s.stores.Params == nil {
		return nil
	}
	params, found, err := s.stores.Params.GetParams(ctx)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	if !found {
		return nil
	}

	if err := s.state.SetExpirationWindow(params.ExpirationWindow); err != nil && !errors.Is(err, strategy.ErrUnchanged) {
		return fmt.Errorf("apply expiration window: %w", err)
	}
	if err := s.state.SetAllowedDelta(decimalToWAD(params.AllowedDelta)); err != nil {
		return fmt.Errorf("apply allowed delta: %w", err)
	}
	if err := s.state.SetCollateralRatio(decimalToWAD(params.CollateralRatio)); err != nil {
		return fmt.Errorf("apply collateral ratio: %w", err)
	}
	s.state.SetOffersEnabled(params.OffersEnabled)
	return nil
}

func (s *Service) loadAttestation(ctx context.Context) (strategy.AttestedInputs, error) {
	if s.stores.Attestations == nil {
		return strategy.AttestedInputs{}, nil
	}
	att, found, err := s.stores.Attestations.GetAttestation(ctx)
	if err != nil {
		return strategy.AttestedInputs{}, fmt.Errorf("load attestation: %w", err)
	}
	if !found {
		return strategy.AttestedInputs{}, nil
	}
	return strategy.AttestedInputs{
		ThirtyDayProfitPotential: att.ThirtyDayProfitPotential.BigInt(),
		OffersInLastMonth:        uint64(att.OffersLastMonth),
		RemovesInLastMonth:       uint64(att.RemovesLastMonth),
		OutstandingLoans:         att.OutstandingLoans.BigInt(),
		AttestedAt:               att.AttestedAt,
	}, nil
}

// recordOfferEvents audits the protocol calls a reprice performed: a cancel
// for the previously active offer, then a create for its replacement.
func (s *Service) recordOfferEvents(ctx context.Context, repriced, prevActive bool, prevOffer lending.Offer) {
	if !repriced || s.stores.OfferEvents == nil {
		return
	}

	now := s.clock()
	if prevActive && prevOffer.Issued() {
		amount := decimal.Zero
		if prevOffer.Amount != nil {
			amount = decimal.NewFromBigInt(prevOffer.Amount, 0)
		}
		_, err := s.stores.OfferEvents.InsertOfferEvent(ctx, storage.OfferEvent{
			OccurredAt: now,
			Action:     storage.OfferActionCancel,
			Amount:     amount,
			OfferHash:  prevOffer.Hash.Hex(),
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to persist offer cancel event")
		}
	}

	offer := s.offers.Offer()
	if !offer.Issued() {
		return
	}
	amount := decimal.Zero
	if offer.Amount != nil {
		amount = decimal.NewFromBigInt(offer.Amount, 0)
	}
	expiration := offer.Expiration
	_, err := s.stores.OfferEvents.InsertOfferEvent(ctx, storage.OfferEvent{
		OccurredAt: now,
		Action:     storage.OfferActionCreate,
		Amount:     amount,
		Expiration: &expiration,
		OfferHash:  offer.Hash.Hex(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist offer create event")
	}
}

func (s *Service) recordFloorSample(ctx context.Context, bucket time.Time, floorQuote, floorBase, delta *big.Int, repriced bool) {
	if s.stores.Floors == nil {
		return
	}
	offer := s.offers.Offer()
	amount := decimal.Zero
	if offer.Amount != nil {
		amount = decimal.NewFromBigInt(offer.Amount, 0)
	}
	sample := storage.FloorSample{
		Bucket:      bucket,
		FloorQuote:  decimal.NewFromBigInt(floorQuote, -18),
		FloorBase:   decimal.NewFromBigInt(floorBase, -18),
		DeltaPct:    decimal.NewFromBigInt(delta, -18).Mul(decimal.NewFromInt(100)),
		Repriced:    repriced,
		OfferAmount: amount,
		Status:      "ok",
	}
	if err := s.stores.Floors.UpsertFloorSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist floor sample")
	}
}

func (s *Service) markErrored(ctx context.Context, bucket time.Time, cause error) {
	if s.stores.Floors == nil {
		return
	}
	if err := s.stores.Floors.MarkFloorSampleErrored(ctx, bucket, cause.Error()); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to mark floor sample errored")
	}
}

func (s *Service) tryLock(ctx context.Context, key int64) (func(), bool, error) {
	if s.stores.Locks == nil || key == 0 {
		return func() {}, true, nil
	}
	return s.stores.Locks.TryAdvisoryLock(ctx, key)
}

func (s *Service) notify(ctx context.Context, note alerting.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("kind", note.Kind).Msg("failed to deliver alert")
	}
}

func decimalToWAD(d decimal.Decimal) *big.Int {
	return d.Mul(decimal.New(1, 18)).BigInt()
}
