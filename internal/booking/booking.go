package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"

	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/logger"
	"github.com/avstrong/innkeeper/internal/payment"
	"github.com/avstrong/innkeeper/internal/pricing"
)

type idGenerator interface {
	GetID(ctx context.Context) (string, error)
}

type storageReader interface {
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	ListRooms(ctx context.Context, hotelID string) ([]*Room, error)
	// ListActiveReservations returns the room's non-cancelled reservations
	// sharing at least one night with stay.
	ListActiveReservations(ctx context.Context, roomID string, stay availability.Stay) ([]*Reservation, error)
	ListReservations(ctx context.Context, roomID string, stay availability.Stay) ([]*Reservation, error)
	GetReservation(ctx context.Context, id string) (*Reservation, error)
	GetReservationByIdempotencyKey(ctx context.Context) (*Reservation, error)
}

type storageWriter interface {
	BeginTransaction(ctx context.Context, level string) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	// SaveReservation must re-check the room inventory atomically with the
	// write and fail with *availability.InsufficientInventoryError when the
	// reservation no longer fits.
	SaveReservation(ctx context.Context, reservation *Reservation) error
	SaveEvent(ctx context.Context, event *ChangeEvent) error
	// UpdateReservationStatus fails with ErrConflict unless the stored status
	// still equals from.
	UpdateReservationStatus(ctx context.Context, id string, from, to Status, at time.Time) (*Reservation, error)
	SetCheckoutSession(ctx context.Context, id, sessionID string, at time.Time) error
	// ApplyPaymentEvent is a no-op returning applied=false for an event id it
	// has seen before or an event older than the stored payment status.
	ApplyPaymentEvent(ctx context.Context, event *payment.Event, at time.Time) (_ *Reservation, applied bool, _ error)
}

// Storage is everything the manager needs from a backend.
type Storage interface {
	storageReader
	storageWriter
}

type gateway interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error)
}

// Publisher receives change events after they are stored.
type Publisher interface {
	Publish(ctx context.Context, event *ChangeEvent) error
}

type promoCatalog interface {
	Lookup(code string) (pricing.Adjustment, error)
}

type Conf struct {
	Gateway        gateway
	Publisher      Publisher
	Promos         promoCatalog
	DepositPercent int
	SuggestHorizon int
	SuggestLimit   int
	MaxStayNights  int
	Now            func() time.Time
}

// DefaultMaxStayNights bounds every stay the manager evaluates or stores.
const DefaultMaxStayNights = 365

type Manager struct {
	l           *logger.Logger
	storage     Storage
	idGenerator idGenerator
	validate    *validator.Validate
	conf        Conf
}

func New(l *logger.Logger, storage Storage, idGenerator idGenerator, conf Conf) *Manager {
	if conf.Now == nil {
		conf.Now = time.Now
	}

	if conf.SuggestLimit == 0 {
		conf.SuggestLimit = 3
	}

	if conf.MaxStayNights == 0 {
		conf.MaxStayNights = DefaultMaxStayNights
	}

	return &Manager{
		l:           l,
		storage:     storage,
		idGenerator: idGenerator,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		conf:        conf,
	}
}

func (m *Manager) now() time.Time {
	return m.conf.Now().UTC()
}

func (m *Manager) checkStay(stay availability.Stay) error {
	return stay.ValidateLength(m.conf.MaxStayNights)
}

// validateInput maps struct tag failures to field messages and checks the stay.
func (m *Manager) validateInput(input *ReservationInput) (availability.Stay, error) {
	inputErr := newInputError()

	if err := m.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return availability.Stay{}, fmt.Errorf("validate reservation input: %w", err)
		}

		for _, fe := range fieldErrs {
			inputErr.addError(fieldName(fe), fieldMessage(fe))
		}

		return availability.Stay{}, inputErr
	}

	checkIn, _ := availability.ParseDay(input.CheckIn)
	checkOut, _ := availability.ParseDay(input.CheckOut)

	stay := availability.NewStay(checkIn, checkOut)
	if err := m.checkStay(stay); err != nil {
		return availability.Stay{}, err
	}

	if stay.From.Before(availability.Day(m.now())) {
		inputErr.addError("check_in", "check_in must not be in the past")
	}

	if input.Guests < input.Units {
		inputErr.addError("guests", "every unit needs at least one guest")
	}

	if inputErr.fieldsCount() > 0 {
		return availability.Stay{}, inputErr
	}

	return stay, nil
}

func fieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}

	return toSnake(ns)
}

func toSnake(s string) string {
	var b strings.Builder

	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] >= 'a' && s[i-1] <= 'z' {
				b.WriteByte('_')
			}

			r += 'a' - 'A'
		}

		b.WriteRune(r)
	}

	return b.String()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "alphanum":
		return "must contain only letters and digits"
	default:
		return "is invalid"
	}
}

// upstream wraps infrastructure failures. Domain errors pass through so
// handlers can still recognise them.
func upstream(op string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrRecordNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrDuplicateIdempotencyKey),
		errors.Is(err, availability.ErrInvalidUnits),
		availability.IsInsufficientInventoryError(err) != nil,
		availability.IsInvariantViolationError(err) != nil,
		availability.IsInvalidRangeError(err) != nil,
		IsTransitionError(err) != nil,
		IsInputError(err) != nil,
		IsUpstreamUnavailableError(err) != nil:
		return err
	default:
		return &UpstreamUnavailableError{Op: op, Err: err}
	}
}

func (m *Manager) publish(ctx context.Context, event *ChangeEvent) {
	if err := m.storage.SaveEvent(ctx, event); err != nil {
		m.l.LogErrorf("Could not save change event %v: %v", event.ID, err.Error())
	}

	if m.conf.Publisher == nil {
		return
	}

	if err := m.conf.Publisher.Publish(ctx, event); err != nil {
		m.l.LogErrorf("Could not publish change event %v: %v", event.ID, err.Error())
	}
}

func (m *Manager) buildEvent(ctx context.Context, kind ChangeKind, r *Reservation) (*ChangeEvent, error) {
	id, err := m.idGenerator.GetID(ctx)
	if err != nil {
		return nil, ErrNextID
	}

	return &ChangeEvent{
		ID:            id,
		Kind:          kind,
		ReservationID: r.ID,
		RoomID:        r.RoomID,
		HotelID:       r.HotelID,
		Status:        r.Status,
		PaymentStatus: r.PaymentStatus,
		CheckIn:       r.CheckIn,
		CheckOut:      r.CheckOut,
		At:            m.now(),
	}, nil
}

func (m *Manager) quote(room *Room, stay availability.Stay, input *ReservationInput) (*pricing.Quote, error) {
	var adjustments []pricing.Adjustment

	if input.PromoCode != "" {
		if m.conf.Promos == nil {
			return nil, fmt.Errorf("promo code %s: %w", input.PromoCode, pricing.ErrUnknownPromoCode)
		}

		adjustment, err := m.conf.Promos.Lookup(input.PromoCode)
		if err != nil {
			return nil, err
		}

		if adjustment != nil {
			adjustments = append(adjustments, adjustment)
		}
	}

	return pricing.NewQuote(room.NightlyPrice, stay.NightCount(), input.Units, m.now(), adjustments...)
}

// admit is the fast pre-check. The storage commit repeats it atomically.
func (m *Manager) admit(ctx context.Context, room *Room, stay availability.Stay, units int) error {
	active, err := m.storage.ListActiveReservations(ctx, room.ID, stay)
	if err != nil {
		return upstream("list reservations", err)
	}

	err = availability.Admit(room.Units, Intervals(active), stay, units)

	if violation := availability.IsInvariantViolationError(err); violation != nil {
		m.l.LogErrorf("Room %v is overbooked: %v", room.ID, violation.Error())
	}

	if availability.IsInsufficientInventoryError(err) != nil {
		trace.SpanFromContext(ctx).AddEvent("inventory exhausted")
	}

	return err
}

func (m *Manager) buildReservation(
	ctx context.Context,
	room *Room,
	stay availability.Stay,
	input *ReservationInput,
	quote *pricing.Quote,
	idempotencyKey string,
) (*Reservation, error) {
	id, err := m.idGenerator.GetID(ctx)
	if err != nil {
		return nil, ErrNextID
	}

	now := m.now()

	return &Reservation{
		ID:       id,
		RoomID:   room.ID,
		HotelID:  room.HotelID,
		CheckIn:  stay.From,
		CheckOut: stay.To,
		Units:    input.Units,
		Guests:   input.Guests,
		Guest: Guest{
			Name:  strings.TrimSpace(input.Guest.Name),
			Email: strings.TrimSpace(input.Guest.Email),
			Phone: strings.TrimSpace(input.Guest.Phone),
		},
		Status:           StatusConfirmed,
		PaymentStatus:    payment.StatusPending,
		PaymentUpdatedAt: now,
		TotalCents:       quote.TotalCents,
		Currency:         room.Currency,
		PromoCode:        quote.PromoCode,
		IdempotencyKey:   idempotencyKey,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CreateReservation is the intake gate. It rejects requests that do not fit
// the room inventory and persists the rest as confirmed, payment pending.
// A retry with the same idempotency key returns the first reservation.
//
//nolint:funlen,cyclop // it's linear simple code
func (m *Manager) CreateReservation(ctx context.Context, input *ReservationInput) (_ *Reservation, err error) {
	idempotencyKey, ok := IdempotencyKeyFromContext(ctx)
	if !ok || idempotencyKey == "" {
		return nil, ErrIdempotencyKey
	}

	stay, err := m.validateInput(input)
	if err != nil {
		return nil, err
	}

	existing, err := m.storage.GetReservationByIdempotencyKey(ctx)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, upstream("get reservation by idempotency key", err)
	}

	if err == nil {
		return existing, nil
	}

	room, err := m.storage.GetRoom(ctx, input.RoomID)
	if err != nil {
		return nil, upstream("get room", err)
	}

	if input.Guests > input.Units*room.Capacity {
		inputErr := newInputError()
		inputErr.addError("guests", fmt.Sprintf("%d units of %s sleep at most %d guests", input.Units, room.Name, input.Units*room.Capacity))

		return nil, inputErr
	}

	quote, err := m.quote(room, stay, input)
	if err != nil {
		inputErr := newInputError()
		inputErr.addError("promo_code", err.Error())

		return nil, inputErr
	}

	if err := m.admit(ctx, room, stay, input.Units); err != nil {
		return nil, err
	}

	reservation, err := m.buildReservation(ctx, room, stay, input, quote, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("build reservation: %w", err)
	}

	event, err := m.buildEvent(ctx, ChangeCreated, reservation)
	if err != nil {
		return nil, fmt.Errorf("build event for reservation %v: %w", reservation.ID, err)
	}

	if err := m.persist(ctx, reservation, event); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return m.storage.GetReservationByIdempotencyKey(ctx)
		}

		if availability.IsInsufficientInventoryError(err) != nil {
			m.l.LogInfo("Reservation for room %v lost the race for %v", room.ID, stay.String())
		}

		return nil, err
	}

	if m.conf.Publisher != nil {
		if err := m.conf.Publisher.Publish(ctx, event); err != nil {
			m.l.LogErrorf("Could not publish change event %v: %v", event.ID, err.Error())
		}
	}

	return reservation, nil
}

func (m *Manager) persist(ctx context.Context, reservation *Reservation, event *ChangeEvent) (err error) {
	ctx, err = m.storage.BeginTransaction(ctx, "READ COMMITTED")
	if err != nil {
		return upstream("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := m.storage.RollbackTransaction(ctx); rbErr != nil {
				m.l.LogErrorf("Could not rollback booking transaction after panic %v", p)
			}

			m.l.LogInfo("Transaction has been roll backed after panic")

			panic(p)
		}

		if err != nil {
			if rbErr := m.storage.RollbackTransaction(ctx); rbErr != nil {
				m.l.LogErrorf("Could not rollback booking transaction after error %v", rbErr.Error())
			}

			m.l.LogInfo("Transaction has been roll backed after error")

			return
		}

		if err = m.storage.CommitTransaction(ctx); err != nil {
			err = upstream("commit transaction", err)

			return
		}

		m.l.LogInfo("Transaction has been committed")
	}()

	if err = m.storage.SaveReservation(ctx, reservation); err != nil {
		return upstream("save reservation", err)
	}

	if err = m.storage.SaveEvent(ctx, event); err != nil {
		return upstream("save event", err)
	}

	return nil
}
