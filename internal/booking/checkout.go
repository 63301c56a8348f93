package booking

import (
	"context"
	"fmt"

	"github.com/avstrong/innkeeper/internal/payment"
	"github.com/avstrong/innkeeper/internal/pricing"
)

type Checkout struct {
	ReservationID string       `json:"reservation_id"`
	Mode          pricing.Mode `json:"mode"`
	AmountCents   int64        `json:"amount_cents"`
	Currency      string       `json:"currency"`
	SessionID     string       `json:"session_id"`
	URL           string       `json:"url"`
}

func payable(r *Reservation) bool {
	if r.Status != StatusConfirmed {
		return false
	}

	return r.PaymentStatus == payment.StatusPending || r.PaymentStatus == payment.StatusFailed
}

// StartCheckout opens a hosted checkout session for the full total or the
// configured deposit share of it.
func (m *Manager) StartCheckout(ctx context.Context, id string, mode pricing.Mode) (*Checkout, error) {
	if m.conf.Gateway == nil {
		return nil, ErrPaymentsDisabled
	}

	if mode != pricing.ModeFull && mode != pricing.ModeDeposit {
		inputErr := newInputError()
		inputErr.addError("mode", "must be full or deposit")

		return nil, inputErr
	}

	reservation, err := m.storage.GetReservation(ctx, id)
	if err != nil {
		return nil, upstream("get reservation", err)
	}

	if !payable(reservation) {
		return nil, fmt.Errorf("reservation %s is %s with payment %s: %w",
			id, reservation.Status, reservation.PaymentStatus, ErrNotPayable)
	}

	amount, err := pricing.Due(reservation.TotalCents, mode, m.conf.DepositPercent)
	if err != nil {
		return nil, fmt.Errorf("amount due for reservation %s: %w", id, err)
	}

	session, err := m.conf.Gateway.CreateSession(ctx, payment.SessionRequest{
		ReservationID: reservation.ID,
		AmountCents:   amount,
		Currency:      reservation.Currency,
		Description:   fmt.Sprintf("Reservation %s, %s", reservation.ID, reservation.Stay().String()),
		CustomerEmail: reservation.Guest.Email,
	})
	if err != nil {
		return nil, &UpstreamUnavailableError{Op: "create checkout session", Err: err}
	}

	if err := m.storage.SetCheckoutSession(ctx, id, session.ID, m.now()); err != nil {
		return nil, upstream("set checkout session", err)
	}

	m.l.LogInfo("Checkout session %v opened for reservation %v (%v cents)", session.ID, id, amount)

	return &Checkout{
		ReservationID: id,
		Mode:          mode,
		AmountCents:   amount,
		Currency:      reservation.Currency,
		SessionID:     session.ID,
		URL:           session.URL,
	}, nil
}

// ReconcilePayment applies a verified gateway event. Redelivered events and
// events older than the stored payment status are acknowledged without
// changing anything; applied reports which case happened.
func (m *Manager) ReconcilePayment(ctx context.Context, event *payment.Event) (applied bool, err error) {
	if event == nil || event.ID == "" || event.ReservationID == "" || !event.Status.Valid() {
		return false, payment.ErrMalformedEvent
	}

	reservation, applied, err := m.storage.ApplyPaymentEvent(ctx, event, m.now())
	if err != nil {
		return false, upstream("apply payment event", err)
	}

	if !applied {
		m.l.LogInfo("Payment event %v for reservation %v skipped", event.ID, event.ReservationID)

		return false, nil
	}

	change, err := m.buildEvent(ctx, ChangePayment, reservation)
	if err != nil {
		m.l.LogErrorf("Could not build change event for reservation %v: %v", reservation.ID, err.Error())

		return true, nil
	}

	m.publish(ctx, change)

	return true, nil
}
