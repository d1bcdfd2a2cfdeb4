package domain

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shopper"
)

// Abandonment reasons.
const (
	ReasonTimeout       = "timeout"
	ReasonNavigatedAway = "navigated_away"
	ReasonCancelled     = "cancelled"
	ReasonReplaced      = "replaced"
)

// RemindOn reports whether an abandonment for reason should trigger a reminder.
func RemindOn(reason string) bool {
	return reason == ReasonTimeout || reason == ReasonNavigatedAway
}

type Consents struct {
	Terms   bool `json:"terms"`
	Privacy bool `json:"privacy"`
}

func (c Consents) Complete() bool {
	return c.Terms && c.Privacy
}

// Notice is an error banner attached to the session.
type Notice struct {
	Code      string            `json:"code"`
	Kind      apperr.Kind       `json:"kind"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Details   map[string]string `json:"details,omitempty"`
}

func NoticeFrom(err error) *Notice {
	return &Notice{
		Code:      apperr.CodeOf(err),
		Kind:      apperr.KindOf(err),
		Message:   err.Error(),
		Retryable: apperr.Retryable(err),
		Details:   apperr.DetailsOf(err),
	}
}

// Reconciliation is one request for authoritative totals. Only the response
// carrying the latest token is applied.
type Reconciliation struct {
	Token   uint64
	Items   []pricing.LineItem
	Pricing pricing.Context
}

type stepState struct {
	valid  bool
	errors orderapi.FieldErrors
}

// Session is one shopper's checkout. It is not safe for concurrent use.
type Session struct {
	id             string
	owner          shopper.Identity
	idempotencyKey string
	step           Step
	cart           CartSnapshot
	contact        orderapi.ContactInfo
	shipping       orderapi.ShippingInfo
	payment        orderapi.PaymentInfo
	steps          map[Step]*stepState
	consents       Consents
	estimate       pricing.Breakdown
	authoritative  *pricing.Breakdown
	calculating    bool
	token          uint64
	pricingErr     *Notice
	submitting     bool
	submissionErr  *Notice
	order          *orderapi.Order
	abandonReason  string
	warnings       []string
	createdAt      time.Time
	updatedAt      time.Time
	lastActivity   time.Time
	closedAt       time.Time
}

// NewSession starts a checkout over cart. The shipping method chosen in the
// cart is carried over.
func NewSession(id, idempotencyKey string, owner shopper.Identity, cart CartSnapshot, now time.Time) (*Session, error) {
	if cart.Empty() {
		return nil, ErrEmptyCart
	}
	cart.Items = slices.Clone(cart.Items)
	s := &Session{
		id:             id,
		owner:          owner,
		idempotencyKey: idempotencyKey,
		step:           StepContact,
		cart:           cart,
		shipping:       orderapi.ShippingInfo{Method: cart.Pricing.ShippingMethod},
		steps:          make(map[Step]*stepState, len(payloadSteps)),
		estimate:       cart.Estimate,
		createdAt:      now,
		updatedAt:      now,
		lastActivity:   now,
	}
	for _, st := range payloadSteps {
		s.steps[st] = &stepState{}
	}
	if cart.Degraded {
		s.warnings = append(s.warnings, "your cart could not be saved recently, please review the items")
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }
func (s *Session) Owner() shopper.Identity { return s.owner }
func (s *Session) IdempotencyKey() string { return s.idempotencyKey }
func (s *Session) Step() Step { return s.step }
func (s *Session) Contact() orderapi.ContactInfo { return s.contact }
func (s *Session) Items() []pricing.LineItem { return slices.Clone(s.cart.Items) }
func (s *Session) Calculating() bool { return s.calculating }
func (s *Session) Submitting() bool { return s.submitting }
func (s *Session) Order() *orderapi.Order { return s.order }
func (s *Session) AbandonReason() string { return s.abandonReason }
func (s *Session) ClosedAt() time.Time { return s.closedAt }
func (s *Session) Estimate() pricing.Breakdown { return s.estimate }

func (s *Session) Authoritative() (pricing.Breakdown, bool) {
	if s.authoritative == nil {
		return pricing.Breakdown{}, false
	}
	return *s.authoritative, true
}

func (s *Session) Closed() bool {
	return s.step.IsTerminal()
}

// PricingContext is the cart's context with the shipping method chosen at
// the shipping step.
func (s *Session) PricingContext() pricing.Context {
	pc := s.cart.Pricing
	if s.shipping.Method != "" {
		pc.ShippingMethod = s.shipping.Method
	}
	return pc
}

func (s *Session) UpdateContact(c orderapi.ContactInfo, now time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.contact = orderapi.NormalizeContact(c)
	s.setValidity(StepContact, orderapi.ValidateContact(s.contact))
	s.edited(StepContact, now)
	return nil
}

func (s *Session) UpdateShipping(info orderapi.ShippingInfo, now time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.shipping = orderapi.NormalizeShipping(info)
	s.setValidity(StepShipping, orderapi.ValidateShipping(s.shipping))
	s.edited(StepShipping, now)
	return nil
}

func (s *Session) UpdatePayment(p orderapi.PaymentInfo, now time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.payment = orderapi.NormalizePayment(p)
	s.setValidity(StepPayment, orderapi.ValidatePayment(s.payment, now))
	s.edited(StepPayment, now)
	return nil
}

func (s *Session) SetConsents(c Consents, now time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.consents = c
	s.touch(now)
	return nil
}

// SetEstimate replaces the local placeholder breakdown.
func (s *Session) SetEstimate(b pricing.Breakdown) {
	s.estimate = b
}

func (s *Session) AddWarning(msg string) {
	s.warnings = append(s.warnings, msg)
}

// Advance moves to the next step when every step up to the current one is valid.
func (s *Session) Advance(now time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if s.step == StepConfirmation {
		return apperr.Wrap(ErrIllegalTransition, "confirmation is left by submitting the order")
	}
	if err := s.checkStepsBefore(s.step+1, now); err != nil {
		return err
	}
	return s.moveTo(s.step+1, now)
}

func (s *Session) Back(now time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if s.step == StepContact {
		return apperr.Wrap(ErrIllegalTransition, "already at the first step")
	}
	return s.moveTo(s.step-1, now)
}

// GoTo jumps to target. Going back is always allowed, going forward passes
// through every intermediate step's validity check.
func (s *Session) GoTo(target Step, now time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if target.IsTerminal() || target < StepContact {
		return apperr.Wrap(ErrIllegalTransition, "cannot navigate to %s", target)
	}
	if target <= s.step {
		if target == s.step {
			s.touch(now)
			return nil
		}
		return s.moveTo(target, now)
	}
	for s.step < target {
		if err := s.Advance(now); err != nil {
			return err
		}
	}
	return nil
}

// BeginRecalculation starts a new reconciliation and supersedes any request
// still in flight.
func (s *Session) BeginRecalculation(now time.Time) (Reconciliation, error) {
	if err := s.ensureOpen(); err != nil {
		return Reconciliation{}, err
	}
	if s.step != StepConfirmation {
		return Reconciliation{}, apperr.Wrap(ErrIllegalTransition, "totals are confirmed at the confirmation step")
	}
	s.token++
	s.calculating = true
	s.authoritative = nil
	s.pricingErr = nil
	s.updatedAt = now
	return Reconciliation{
		Token:   s.token,
		Items:   slices.Clone(s.cart.Items),
		Pricing: s.PricingContext(),
	}, nil
}

// CompleteRecalculation applies b when token is still the latest request.
func (s *Session) CompleteRecalculation(token uint64, b pricing.Breakdown, now time.Time) bool {
	if !s.current(token) {
		return false
	}
	s.calculating = false
	s.authoritative = &b
	s.estimate = b
	s.updatedAt = now
	return true
}

// FailRecalculation keeps the stale estimate and records a retryable banner.
func (s *Session) FailRecalculation(token uint64, err error, now time.Time) bool {
	if !s.current(token) {
		return false
	}
	s.calculating = false
	s.pricingErr = NoticeFrom(err)
	s.pricingErr.Retryable = true
	s.updatedAt = now
	return true
}

// BeginSubmission marks the session as submitting and returns the order
// payload. Only one submission can be in flight.
func (s *Session) BeginSubmission(now time.Time) (orderapi.SubmitRequest, error) {
	if s.submitting {
		return orderapi.SubmitRequest{}, ErrSubmissionInProgress
	}
	if err := s.ensureOpen(); err != nil {
		return orderapi.SubmitRequest{}, err
	}
	switch {
	case s.step != StepConfirmation:
		return orderapi.SubmitRequest{}, apperr.Wrap(ErrIllegalTransition, "orders are submitted from the confirmation step")
	case s.calculating:
		return orderapi.SubmitRequest{}, apperr.Wrap(ErrTotalsPending, "order totals are still being calculated")
	case s.authoritative == nil:
		return orderapi.SubmitRequest{}, ErrTotalsPending
	case !s.consents.Complete():
		return orderapi.SubmitRequest{}, ErrConsentRequired
	}
	if err := s.checkStepsBefore(StepConfirmation, now); err != nil {
		return orderapi.SubmitRequest{}, err
	}

	s.submitting = true
	s.submissionErr = nil
	s.touch(now)
	return orderapi.SubmitRequest{
		IdempotencyKey: s.idempotencyKey,
		CheckoutID:     s.id,
		Items:          slices.Clone(s.cart.Items),
		Pricing:        s.PricingContext(),
		ExpectedTotals: *s.authoritative,
		Contact:        s.contact.WithoutSecrets(),
		Shipping:       s.shipping,
		Payment:        s.payment,
	}, nil
}

func (s *Session) CompleteSubmission(order *orderapi.Order, now time.Time) error {
	if !s.submitting {
		return apperr.Wrap(ErrIllegalTransition, "no submission in flight")
	}
	s.submitting = false
	if err := s.moveTo(StepSubmitted, now); err != nil {
		return err
	}
	s.order = order
	s.authoritative = &order.Totals
	s.closedAt = now
	return nil
}

// FailSubmission returns the session to Confirmation with err as banner.
// Changed totals or stock require a new reconciliation.
func (s *Session) FailSubmission(err error, now time.Time) {
	s.submitting = false
	s.submissionErr = NoticeFrom(err)
	if errors.Is(err, orderapi.ErrTotalsChanged) || errors.Is(err, orderapi.ErrStockChanged) {
		s.authoritative = nil
	}
	s.touch(now)
}

func (s *Session) Abandon(reason string, now time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.moveTo(StepAbandoned, now); err != nil {
		return err
	}
	s.abandonReason = reason
	s.closedAt = now
	return nil
}

// Touch records shopper activity.
func (s *Session) Touch(now time.Time) {
	if !s.Closed() {
		s.touch(now)
	}
}

// Idle reports whether an open session saw no activity for at least after.
func (s *Session) Idle(now time.Time, after time.Duration) bool {
	return !s.Closed() && !s.submitting && now.Sub(s.lastActivity) >= after
}

func (s *Session) View() View {
	v := View{
		ID:              s.id,
		Step:            s.step,
		Items:           slices.Clone(s.cart.Items),
		Pricing:         s.PricingContext(),
		Contact:         s.contact.WithoutSecrets(),
		Shipping:        s.shipping,
		Payment:         s.payment.Summary(),
		Consents:        s.consents,
		Estimate:        s.estimate,
		Calculating:     s.calculating,
		PricingError:    s.pricingErr,
		Submitting:      s.submitting,
		SubmissionError: s.submissionErr,
		Order:           s.order,
		AbandonReason:   s.abandonReason,
		Warnings:        slices.Clone(s.warnings),
		CreatedAt:       s.createdAt,
		UpdatedAt:       s.updatedAt,
	}
	if s.authoritative != nil {
		b := *s.authoritative
		v.Totals = &b
	}
	for _, st := range payloadSteps {
		state := s.steps[st]
		v.Steps = append(v.Steps, StepView{Step: st, Valid: state.valid, Errors: state.errors})
	}
	return v
}

func (s *Session) ensureOpen() error {
	if s.Closed() {
		return ErrSessionClosed
	}
	if s.submitting {
		return ErrSubmissionInProgress
	}
	return nil
}

func (s *Session) current(token uint64) bool {
	return token == s.token && s.calculating && s.step == StepConfirmation
}

func (s *Session) setValidity(step Step, errs orderapi.FieldErrors) {
	s.steps[step] = &stepState{valid: len(errs) == 0, errors: errs}
}

// revalidate recomputes the predicate of a step from its stored payload.
func (s *Session) revalidate(step Step, now time.Time) {
	switch step {
	case StepContact:
		s.setValidity(step, orderapi.ValidateContact(s.contact))
	case StepShipping:
		s.setValidity(step, orderapi.ValidateShipping(s.shipping))
	case StepPayment:
		s.setValidity(step, orderapi.ValidatePayment(s.payment, now))
	}
}

// checkStepsBefore fails with the first invalid step preceding target.
func (s *Session) checkStepsBefore(target Step, now time.Time) error {
	for _, st := range payloadSteps {
		if st >= target {
			break
		}
		s.revalidate(st, now)
		if state := s.steps[st]; !state.valid {
			return apperr.WithDetails(ErrStepInvalid, state.errors, "the %s step is incomplete", strings.ToLower(st.String()))
		}
	}
	return nil
}

// edited moves the session back to step when the shopper changes an earlier
// payload. Confirmed totals no longer apply.
func (s *Session) edited(step Step, now time.Time) {
	if step < s.step {
		s.step = step
	}
	s.invalidatePricing()
	s.touch(now)
}

func (s *Session) moveTo(target Step, now time.Time) error {
	if !CanTransitionTo(s.step, target) {
		return apperr.Wrap(ErrIllegalTransition, "cannot move from %s to %s", s.step, target)
	}
	if s.step == StepConfirmation {
		s.invalidatePricing()
	}
	s.step = target
	s.touch(now)
	return nil
}

func (s *Session) invalidatePricing() {
	if s.calculating {
		s.token++
		s.calculating = false
	}
	s.authoritative = nil
	s.pricingErr = nil
}

func (s *Session) touch(now time.Time) {
	s.updatedAt = now
	s.lastActivity = now
}
