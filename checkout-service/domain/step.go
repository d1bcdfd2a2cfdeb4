package domain

import "fmt"

// Step is the position of a checkout session. The set is closed: every value
// has a row in the transition table below.
type Step int

const (
	StepContact Step = iota
	StepShipping
	StepPayment
	StepConfirmation
	StepSubmitted
	StepAbandoned
)

// Steps lists every step in order.
var Steps = []Step{StepContact, StepShipping, StepPayment, StepConfirmation, StepSubmitted, StepAbandoned}

// payloadSteps are the steps that carry shopper input and a validity flag.
var payloadSteps = []Step{StepContact, StepShipping, StepPayment}

var transitions = map[Step][]Step{
	StepContact:      {StepShipping, StepAbandoned},
	StepShipping:     {StepContact, StepPayment, StepAbandoned},
	StepPayment:      {StepContact, StepShipping, StepConfirmation, StepAbandoned},
	StepConfirmation: {StepContact, StepShipping, StepPayment, StepSubmitted, StepAbandoned},
	StepSubmitted:    {},
	StepAbandoned:    {},
}

func CanTransitionTo(from, to Step) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Step) IsTerminal() bool {
	return s == StepSubmitted || s == StepAbandoned
}

func (s Step) String() string {
	switch s {
	case StepContact:
		return "CONTACT"
	case StepShipping:
		return "SHIPPING"
	case StepPayment:
		return "PAYMENT"
	case StepConfirmation:
		return "CONFIRMATION"
	case StepSubmitted:
		return "SUBMITTED"
	case StepAbandoned:
		return "ABANDONED"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

func ParseStep(v string) (Step, error) {
	for _, s := range Steps {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown checkout step %q", v)
}

func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Step) UnmarshalText(b []byte) error {
	v, err := ParseStep(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
