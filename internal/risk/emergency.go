package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/pquerna/otp/totp"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

const snapshotAlerts = 10

// Override is the explicit manual confirmation required to clear an emergency stop.
type Override struct {
	Confirm bool   // must be true
	Code    string // current TOTP code when a secret is configured
}

// EmergencyStop runs the shutdown cascade exactly once: halt strategies,
// cancel pending orders, close positions, disconnect venues, write the
// forensic snapshot, notify. Every step is attempted even when an earlier one
// fails. The stop stays active until ResetEmergencyStop.
func (r *RiskManager) EmergencyStop(ctx context.Context, reason string) error {
	if !r.emergency.CompareAndSwap(false, true) {
		r.logger.Warn(ctx, "Emergency stop already active, ignoring trigger", map[string]interface{}{"reason": reason})
		return nil
	}

	r.mu.Lock()
	r.emergencyReason = reason
	r.halted = true
	r.haltReason = "emergency stop: " + reason
	r.level = domain.RiskEmergency
	r.cascadeRuns++
	strategies := append([]ports.StrategyHalter(nil), r.strategies...)
	venues := append([]ports.VenueConnection(nil), r.venues...)
	orders, positions, snapshots := r.orders, r.positions, r.snapshots
	portfolioValue := r.currentValue
	r.mu.Unlock()

	r.logger.Error(ctx, errors.New(reason), "EMERGENCY STOP TRIGGERED")

	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			r.logger.Error(ctx, err, "Emergency step failed", map[string]interface{}{"step": name})
			return
		}
		r.logger.Info(ctx, "Emergency step completed", map[string]interface{}{"step": name})
	}

	step("halt_strategies", func() error {
		var stepErrs []error
		for _, s := range strategies {
			if err := s.Halt(ctx, reason); err != nil {
				stepErrs = append(stepErrs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
		return errors.Join(stepErrs...)
	})
	step("cancel_orders", func() error {
		if orders == nil {
			return nil
		}
		n, err := orders.CancelAllPending(ctx)
		r.logger.Warn(ctx, "Pending orders cancelled", map[string]interface{}{"count": n})
		return err
	})
	step("close_positions", func() error {
		if positions == nil {
			return nil
		}
		n, err := positions.CloseAllPositions(ctx)
		r.logger.Warn(ctx, "Positions closed", map[string]interface{}{"count": n})
		return err
	})
	step("disconnect_venues", func() error {
		var stepErrs []error
		for _, v := range venues {
			if err := v.Disconnect(ctx); err != nil {
				stepErrs = append(stepErrs, fmt.Errorf("%s: %w", v.Name(), err))
			}
		}
		return errors.Join(stepErrs...)
	})
	step("save_snapshot", func() error {
		if snapshots == nil {
			return nil
		}
		alerts := r.Alerts()
		if len(alerts) > snapshotAlerts {
			alerts = alerts[len(alerts)-snapshotAlerts:]
		}
		path, err := snapshots.WriteEmergencySnapshot(ctx, ports.EmergencySnapshot{
			Timestamp:       r.now(),
			PortfolioValue:  portfolioValue,
			EmergencyReason: reason,
			RiskLevel:       string(domain.RiskEmergency),
			Alerts:          alerts,
		})
		if err == nil {
			r.logger.Warn(ctx, "Emergency snapshot saved", map[string]interface{}{"path": path})
		}
		return err
	})
	step("notify", func() error {
		r.raise(ctx, domain.AlertEmergency, "EMERGENCY STOP: "+reason, portfolioValue, 0, map[string]interface{}{
			"emergency_trigger": reason,
		})
		return nil
	})

	return errors.Join(errs...)
}

// ResetEmergencyStop clears the emergency stop and any halt, including one
// raised by Evaluate without an emergency stop. There is no automatic
// recovery; the caller must confirm explicitly and, when a TOTP secret is
// configured, supply a valid code.
func (r *RiskManager) ResetEmergencyStop(ctx context.Context, o Override) error {
	if !o.Confirm {
		return fmt.Errorf("reset emergency stop: explicit confirmation required: %w", ports.ErrOverrideRejected)
	}
	if r.config.TOTPSecret != "" && !totp.Validate(o.Code, r.config.TOTPSecret) {
		r.logger.Warn(ctx, "Emergency reset rejected: invalid one-time code")
		return fmt.Errorf("reset emergency stop: invalid one-time code: %w", ports.ErrOverrideRejected)
	}

	r.mu.Lock()
	wasHalted, haltReason := r.halted, r.haltReason
	r.halted = false
	r.haltReason = ""
	if !r.emergency.Load() {
		r.mu.Unlock()
		if wasHalted {
			r.logger.Warn(ctx, "Trading halt cleared by manual override", map[string]interface{}{"previousReason": haltReason})
		}
		return nil
	}
	previous := r.emergencyReason
	r.emergencyReason = ""
	r.emergency.Store(false)
	r.level = r.levelFor(r.drawdownLocked(r.currentValue))
	r.mu.Unlock()

	r.logger.Warn(ctx, "EMERGENCY STOP RESET BY MANUAL OVERRIDE", map[string]interface{}{"previousReason": previous})
	return nil
}

// CascadeRuns returns how many times the emergency cascade has executed.
func (r *RiskManager) CascadeRuns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cascadeRuns
}
