package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance bounds how old a signed timestamp may be.
const SignatureTolerance = 5 * time.Minute

type webhookPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID                string            `json:"id"`
			ClientReferenceID string            `json:"client_reference_id"`
			Metadata          map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

var eventStatuses = map[string]Status{
	"checkout.session.completed":               StatusPaid,
	"checkout.session.async_payment_succeeded": StatusPaid,
	"checkout.session.async_payment_failed":    StatusFailed,
	"checkout.session.expired":                 StatusFailed,
	"payment_intent.payment_failed":            StatusFailed,
	"charge.refunded":                          StatusRefunded,
}

// Sign builds a signature header for payload. The gateway does the same on
// its side; tests use it to forge valid deliveries.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)

	return "t=" + ts + ",v1=" + computeSignature(payload, secret, ts)
}

func computeSignature(payload []byte, secret, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook verifies header against payload and decodes the event. Events
// of types that do not change a payment status return ErrUnhandledEvent.
func ParseWebhook(payload []byte, header, secret string, now time.Time) (*Event, error) {
	if err := verify(payload, header, secret, now); err != nil {
		return nil, err
	}

	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %v: %w", err, ErrMalformedEvent)
	}

	if p.ID == "" {
		return nil, fmt.Errorf("event without id: %w", ErrMalformedEvent)
	}

	status, ok := eventStatuses[p.Type]
	if !ok {
		return nil, fmt.Errorf("event type %q: %w", p.Type, ErrUnhandledEvent)
	}

	reservationID := p.Data.Object.Metadata["reservation_id"]
	if reservationID == "" {
		reservationID = p.Data.Object.ClientReferenceID
	}

	if reservationID == "" {
		return nil, fmt.Errorf("event %s has no reservation reference: %w", p.ID, ErrMalformedEvent)
	}

	var sessionID string
	if strings.HasPrefix(p.Type, "checkout.session.") {
		sessionID = p.Data.Object.ID
	}

	return &Event{
		ID:            p.ID,
		Type:          p.Type,
		ReservationID: reservationID,
		SessionID:     sessionID,
		Status:        status,
		OccurredAt:    time.Unix(p.Created, 0).UTC(),
	}, nil
}

func verify(payload []byte, header, secret string, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("webhook secret is not configured: %w", ErrInvalidSignature)
	}

	var (
		ts         string
		signatures []string
	)

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}

		switch key {
		case "t":
			ts = value
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if ts == "" || len(signatures) == 0 {
		return fmt.Errorf("missing timestamp or signature: %w", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp: %w", ErrInvalidSignature)
	}

	if age := now.Sub(time.Unix(unix, 0)); age > SignatureTolerance || age < -SignatureTolerance {
		return fmt.Errorf("timestamp outside tolerance: %w", ErrInvalidSignature)
	}

	expected := []byte(computeSignature(payload, secret, ts))

	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}

	return ErrInvalidSignature
}
