package quota

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leozw/queue-warden/internal/db"
	"github.com/leozw/queue-warden/internal/metrics"
)

// BillingReader is the durable-store surface the guard needs. Satisfied by
// *db.Repository.
type BillingReader interface {
	GetUsageTotals(ctx context.Context, tenantID string) (*db.UsageTotals, error)
	GetBillingSettings(ctx context.Context, tenantID string) (*db.BillingSettings, error)
	GetPlanLimits(ctx context.Context, tier string) (*db.PlanLimits, error)
}

// Admission is the result of a quota check. Blocked is a legitimate policy
// outcome, never an error.
type Admission struct {
	ReservationID string `json:"reservation_id,omitempty"`
	Blocked       bool   `json:"blocked"`
	Reason        string `json:"reason,omitempty"`
}

// Guard admits or blocks executions against a tenant's hard spending limit.
// It reserves first and checks after, so the projection includes every other
// worker's in-flight intent, not just historical usage. On any infrastructure
// failure the guard fails open: it never blocks execution because of its own
// misconfiguration or a store outage.
type Guard struct {
	ledger  *Ledger
	store   BillingReader
	enabled bool
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewGuard(ledger *Ledger, store BillingReader, enabled bool, m *metrics.Collector, logger *zap.Logger) *Guard {
	return &Guard{
		ledger:  ledger,
		store:   store,
		enabled: enabled,
		logger:  logger,
		metrics: m,
	}
}

// Admit reserves estimatedMinutes for (tenant, kind) and checks the tenant's
// projected spend against their hard limit. When the projection meets or
// exceeds the limit the fresh reservation is rolled back and the caller gets
// a structured Blocked result with a human-readable reason.
func (g *Guard) Admit(ctx context.Context, tenantID string, kind ResourceKind, estimatedMinutes int64) Admission {
	if !g.enabled {
		return Admission{}
	}

	reservationID, err := g.ledger.Reserve(ctx, tenantID, kind, estimatedMinutes)
	if err != nil {
		g.logger.Warn("Reservation failed, admitting without quota check",
			zap.String("tenant_id", tenantID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		g.metrics.RecordReservation(string(kind), "fail_open", 0)
		return Admission{}
	}

	settings, err := g.store.GetBillingSettings(ctx, tenantID)
	if err != nil {
		g.logger.Warn("Failed to load billing settings, admitting",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		g.metrics.RecordReservation(string(kind), "fail_open", estimatedMinutes)
		return Admission{ReservationID: reservationID}
	}

	if !settings.HardLimitEnabled {
		g.metrics.RecordReservation(string(kind), "admitted", estimatedMinutes)
		return Admission{ReservationID: reservationID}
	}

	limits, err := g.store.GetPlanLimits(ctx, settings.PlanTier)
	if err != nil {
		g.logger.Warn("Failed to load plan limits, admitting",
			zap.String("tenant_id", tenantID),
			zap.String("plan_tier", settings.PlanTier),
			zap.Error(err),
		)
		g.metrics.RecordReservation(string(kind), "fail_open", estimatedMinutes)
		return Admission{ReservationID: reservationID}
	}

	usage, err := g.store.GetUsageTotals(ctx, tenantID)
	if err != nil {
		g.logger.Warn("Failed to load usage totals, admitting",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		g.metrics.RecordReservation(string(kind), "fail_open", estimatedMinutes)
		return Admission{ReservationID: reservationID}
	}

	reserved, err := g.ledger.ReservedAll(ctx, tenantID)
	if err != nil {
		g.logger.Warn("Failed to read reservation aggregates, admitting",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		g.metrics.RecordReservation(string(kind), "fail_open", estimatedMinutes)
		return Admission{ReservationID: reservationID}
	}

	projectedCents := projectedOverageCents(usage, limits, reserved)
	if projectedCents >= settings.HardLimitCents {
		if err := g.ledger.Release(ctx, reservationID); err != nil {
			// TTL expiry will heal the aggregate; the block decision stands.
			g.logger.Warn("Failed to roll back blocked reservation",
				zap.String("reservation_id", reservationID),
				zap.Error(err),
			)
		}

		var totalReserved int64
		for _, n := range reserved {
			totalReserved += n
		}

		reason := fmt.Sprintf(
			"hard spending limit of %s reached: projected overage cost %s with %d minutes reserved in flight",
			formatUSD(settings.HardLimitCents), formatUSD(projectedCents), totalReserved,
		)

		g.logger.Info("Execution blocked by spending limit",
			zap.String("tenant_id", tenantID),
			zap.String("kind", string(kind)),
			zap.Int64("estimated_minutes", estimatedMinutes),
			zap.Int64("projected_cents", projectedCents),
			zap.Int64("limit_cents", settings.HardLimitCents),
		)
		g.metrics.RecordReservation(string(kind), "blocked", 0)

		return Admission{Blocked: true, Reason: reason}
	}

	g.metrics.RecordReservation(string(kind), "admitted", estimatedMinutes)
	return Admission{ReservationID: reservationID}
}

// Release returns a reservation's minutes to the tenant's quota. Safe to call
// more than once for the same ID.
func (g *Guard) Release(ctx context.Context, reservationID string) error {
	if !g.enabled || reservationID == "" {
		return nil
	}
	if err := g.ledger.Release(ctx, reservationID); err != nil {
		return err
	}
	g.metrics.RecordRelease()
	return nil
}

// Reserved is a point-in-time read of the live aggregate for one kind.
func (g *Guard) Reserved(ctx context.Context, tenantID string, kind ResourceKind) (int64, error) {
	return g.ledger.Reserved(ctx, tenantID, kind)
}

// projectedOverageCents prices usage-to-date plus in-flight reservations
// against the plan's included quota, per kind, summed onto one billing meter.
func projectedOverageCents(usage *db.UsageTotals, limits *db.PlanLimits, reserved map[ResourceKind]int64) int64 {
	overage := func(used, inFlight, included int64) int64 {
		n := used + inFlight - included
		if n < 0 {
			return 0
		}
		return n
	}

	var cents int64
	cents += overage(usage.BrowserMinutes, reserved[KindBrowser], limits.IncludedBrowserMinutes) * limits.BrowserOverageCents
	cents += overage(usage.LoadMinutes, reserved[KindLoad], limits.IncludedLoadMinutes) * limits.LoadOverageCents
	cents += overage(usage.CheckMinutes, reserved[KindCheck], limits.IncludedCheckMinutes) * limits.CheckOverageCents
	return cents
}

func formatUSD(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
