package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertFloorSampleSQL = `INSERT INTO floor_samples (
        bucket_ts,
        floor_quote,
        floor_base,
        delta_pct,
        repriced,
        offer_amount,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        floor_quote  = EXCLUDED.floor_quote,
        floor_base   = EXCLUDED.floor_base,
        delta_pct    = EXCLUDED.delta_pct,
        repriced     = EXCLUDED.repriced,
        offer_amount = EXCLUDED.offer_amount,
        status       = EXCLUDED.status,
        error        = EXCLUDED.error;`

	listFloorSamplesBetweenSQL = `SELECT
        bucket_ts,
        floor_quote::text,
        floor_base::text,
        delta_pct::text,
        repriced,
        offer_amount::text,
        status,
        error,
        created_at
    FROM floor_samples
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	markFloorSampleErroredSQL = `INSERT INTO floor_samples (bucket_ts, floor_quote, floor_base, delta_pct, repriced, offer_amount, status, error)
    VALUES ($1, 0, 0, 0, FALSE, 0, 'errored', $2)
    ON CONFLICT (bucket_ts) DO UPDATE
    SET status = 'errored', error = EXCLUDED.error;`

	insertHarvestReportSQL = `INSERT INTO harvest_reports (
        id,
        harvested_at,
        profit,
        loss,
        debt_payment,
        freed,
        idle_balance,
        outstanding_loans,
        total_debt
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	listRecentHarvestReportsSQL = `SELECT
        id,
        harvested_at,
        profit::text,
        loss::text,
        debt_payment::text,
        freed::text,
        idle_balance::text,
        outstanding_loans::text,
        total_debt::text,
        created_at
    FROM harvest_reports
    ORDER BY harvested_at DESC
    LIMIT $1;`

	insertOfferEventSQL = `INSERT INTO offer_events (
        occurred_at,
        action,
        amount,
        expiration,
        offer_hash
    ) VALUES (
        $1,$2,$3,$4,$5
    ) RETURNING id;`

	upsertAttestationSQL = `INSERT INTO attested_inputs (
        id,
        thirty_day_profit_potential,
        offers_last_month,
        removes_last_month,
        outstanding_loans,
        attested_at
    ) VALUES (
        1,$1,$2,$3,$4,$5
    )
    ON CONFLICT (id) DO UPDATE
    SET thirty_day_profit_potential = EXCLUDED.thirty_day_profit_potential,
        offers_last_month           = EXCLUDED.offers_last_month,
        removes_last_month          = EXCLUDED.removes_last_month,
        outstanding_loans           = EXCLUDED.outstanding_loans,
        attested_at                 = EXCLUDED.attested_at;`

	getAttestationSQL = `SELECT
        thirty_day_profit_potential::text,
        offers_last_month,
        removes_last_month,
        outstanding_loans::text,
        attested_at
    FROM attested_inputs
    WHERE id = 1;`

	upsertParamsSQL = `INSERT INTO strategy_params (
        id,
        expiration_window_seconds,
        allowed_delta,
        collateral_ratio,
        offers_enabled,
        updated_at
    ) VALUES (
        1,$1,$2,$3,$4,NOW()
    )
    ON CONFLICT (id) DO UPDATE
    SET expiration_window_seconds = EXCLUDED.expiration_window_seconds,
        allowed_delta             = EXCLUDED.allowed_delta,
        collateral_ratio          = EXCLUDED.collateral_ratio,
        offers_enabled            = EXCLUDED.offers_enabled,
        updated_at                = NOW();`

	getParamsSQL = `SELECT
        expiration_window_seconds,
        allowed_delta::text,
        collateral_ratio::text,
        offers_enabled,
        updated_at
    FROM strategy_params
    WHERE id = 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// FloorSampleStore defines floor sample persistence.
type FloorSampleStore interface {
	UpsertFloorSample(ctx context.Context, sample FloorSample) error
	ListFloorSamplesBetween(ctx context.Context, from, to time.Time) ([]FloorSample, error)
	MarkFloorSampleErrored(ctx context.Context, bucket time.Time, errMsg string) error
}

// HarvestReportStore defines harvest report persistence.
type HarvestReportStore interface {
	InsertHarvestReport(ctx context.Context, report HarvestReport) error
	ListRecentHarvestReports(ctx context.Context, limit int) ([]HarvestReport, error)
}

// OfferEventStore defines offer event auditing.
type OfferEventStore interface {
	InsertOfferEvent(ctx context.Context, event OfferEvent) (int64, error)
}

// AttestationStore defines operator attestation persistence.
type AttestationStore interface {
	UpsertAttestation(ctx context.Context, att Attestation) error
	GetAttestation(ctx context.Context) (Attestation, bool, error)
}

// ParamsStore defines admin parameter persistence.
type ParamsStore interface {
	UpsertParams(ctx context.Context, params Params) error
	GetParams(ctx context.Context) (Params, bool, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to all controller tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertFloorSample persists or updates a tend-cycle sample.
func (s *Store) UpsertFloorSample(ctx context.Context, sample FloorSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertFloorSampleSQL,
		sample.Bucket,
		sample.FloorQuote.String(),
		sample.FloorBase.String(),
		sample.DeltaPct.String(),
		sample.Repriced,
		sample.OfferAmount.String(),
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert floor sample: %w", execErr)
	}
	return nil
}

// ListFloorSamplesBetween lists samples within a time window.
func (s *Store) ListFloorSamplesBetween(ctx context.Context, from, to time.Time) ([]FloorSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listFloorSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list floor samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]FloorSample, 0)
	for rows.Next() {
		var sample FloorSample
		var floorQuote, floorBase, deltaPct, offerAmount string
		if err := rows.Scan(
			&sample.Bucket,
			&floorQuote,
			&floorBase,
			&deltaPct,
			&sample.Repriced,
			&offerAmount,
			&sample.Status,
			&sample.Error,
			&sample.CreatedAt,
		); err != nil {
			return nil, err
		}
		if sample.FloorQuote, err = decimal.NewFromString(floorQuote); err != nil {
			return nil, fmt.Errorf("parse floor quote: %w", err)
		}
		if sample.FloorBase, err = decimal.NewFromString(floorBase); err != nil {
			return nil, fmt.Errorf("parse floor base: %w", err)
		}
		if sample.DeltaPct, err = decimal.NewFromString(deltaPct); err != nil {
			return nil, fmt.Errorf("parse delta pct: %w", err)
		}
		if sample.OfferAmount, err = decimal.NewFromString(offerAmount); err != nil {
			return nil, fmt.Errorf("parse offer amount: %w", err)
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// MarkFloorSampleErrored records a failed tend cycle for the bucket.
func (s *Store) MarkFloorSampleErrored(ctx context.Context, bucket time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markFloorSampleErroredSQL, bucket, errMsg); execErr != nil {
		return fmt.Errorf("mark floor sample errored: %w", execErr)
	}
	return nil
}

// InsertHarvestReport persists a reconciliation outcome.
func (s *Store) InsertHarvestReport(ctx context.Context, report HarvestReport) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertHarvestReportSQL,
		report.ID,
		report.HarvestedAt,
		report.Profit.String(),
		report.Loss.String(),
		report.DebtPayment.String(),
		report.Freed.String(),
		report.IdleBalance.String(),
		report.OutstandingLoans.String(),
		report.TotalDebt.String(),
	)
	if execErr != nil {
		return fmt.Errorf("insert harvest report: %w", execErr)
	}
	return nil
}

// ListRecentHarvestReports lists the most recent reports.
func (s *Store) ListRecentHarvestReports(ctx context.Context, limit int) ([]HarvestReport, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentHarvestReportsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list harvest reports: %w", queryErr)
	}
	defer rows.Close()

	reports := make([]HarvestReport, 0, limit)
	for rows.Next() {
		var report HarvestReport
		var profit, loss, debtPayment, freed, idle, outstanding, totalDebt string
		if err := rows.Scan(
			&report.ID,
			&report.HarvestedAt,
			&profit,
			&loss,
			&debtPayment,
			&freed,
			&idle,
			&outstanding,
			&totalDebt,
			&report.CreatedAt,
		); err != nil {
			return nil, err
		}
		fields := []struct {
			dst *decimal.Decimal
			src string
		}{
			{&report.Profit, profit},
			{&report.Loss, loss},
			{&report.DebtPayment, debtPayment},
			{&report.Freed, freed},
			{&report.IdleBalance, idle},
			{&report.OutstandingLoans, outstanding},
			{&report.TotalDebt, totalDebt},
		}
		for _, f := range fields {
			parsed, convErr := decimal.NewFromString(f.src)
			if convErr != nil {
				return nil, fmt.Errorf("parse harvest report amount: %w", convErr)
			}
			*f.dst = parsed
		}
		reports = append(reports, report)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return reports, nil
}

// InsertOfferEvent records a protocol-facing offer action.
func (s *Store) InsertOfferEvent(ctx context.Context, event OfferEvent) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var expiration interface{}
	if event.Expiration != nil {
		expiration = *event.Expiration
	}

	var id int64
	row := pool.QueryRow(ctx, insertOfferEventSQL,
		event.OccurredAt,
		event.Action,
		event.Amount.String(),
		expiration,
		event.OfferHash,
	)
	if scanErr := row.Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert offer event: %w", scanErr)
	}
	return id, nil
}

// UpsertAttestation replaces the operator-pushed indexer figures.
func (s *Store) UpsertAttestation(ctx context.Context, att Attestation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertAttestationSQL,
		att.ThirtyDayProfitPotential.String(),
		att.OffersLastMonth,
		att.RemovesLastMonth,
		att.OutstandingLoans.String(),
		att.AttestedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert attestation: %w", execErr)
	}
	return nil
}

// GetAttestation returns the current attestation, if one was pushed.
func (s *Store) GetAttestation(ctx context.Context) (Attestation, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Attestation{}, false, err
	}

	var att Attestation
	var potential, outstanding string
	row := pool.QueryRow(ctx, getAttestationSQL)
	if scanErr := row.Scan(
		&potential,
		&att.OffersLastMonth,
		&att.RemovesLastMonth,
		&outstanding,
		&att.AttestedAt,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Attestation{}, false, nil
		}
		return Attestation{}, false, fmt.Errorf("get attestation: %w", scanErr)
	}

	if att.ThirtyDayProfitPotential, err = decimal.NewFromString(potential); err != nil {
		return Attestation{}, false, fmt.Errorf("parse profit potential: %w", err)
	}
	if att.OutstandingLoans, err = decimal.NewFromString(outstanding); err != nil {
		return Attestation{}, false, fmt.Errorf("parse outstanding loans: %w", err)
	}
	return att, true, nil
}

// UpsertParams replaces the admin-settable strategy parameters.
func (s *Store) UpsertParams(ctx context.Context, params Params) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertParamsSQL,
		int64(params.ExpirationWindow/time.Second),
		params.AllowedDelta.String(),
		params.CollateralRatio.String(),
		params.OffersEnabled,
	)
	if execErr != nil {
		return fmt.Errorf("upsert params: %w", execErr)
	}
	return nil
}

// GetParams returns the stored strategy parameters, if any.
func (s *Store) GetParams(ctx context.Context) (Params, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Params{}, false, err
	}

	var params Params
	var windowSeconds int64
	var allowedDelta, collateralRatio string
	row := pool.QueryRow(ctx, getParamsSQL)
	if scanErr := row.Scan(
		&windowSeconds,
		&allowedDelta,
		&collateralRatio,
		&params.OffersEnabled,
		&params.UpdatedAt,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Params{}, false, nil
		}
		return Params{}, false, fmt.Errorf("get params: %w", scanErr)
	}

	params.ExpirationWindow = time.Duration(windowSeconds) * time.Second
	if params.AllowedDelta, err = decimal.NewFromString(allowedDelta); err != nil {
		return Params{}, false, fmt.Errorf("parse allowed delta: %w", err)
	}
	if params.CollateralRatio, err = decimal.NewFromString(collateralRatio); err != nil {
		return Params{}, false, fmt.Errorf("parse collateral ratio: %w", err)
	}
	return params, true, nil
}

var (
	_ FloorSampleStore   = (*Store)(nil)
	_ HarvestReportStore = (*Store)(nil)
	_ OfferEventStore    = (*Store)(nil)
	_ AttestationStore   = (*Store)(nil)
	_ ParamsStore        = (*Store)(nil)
	_ AdvisoryLocker     = (*Store)(nil)
)
