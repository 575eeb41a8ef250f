package model

import (
	"encoding/json"
	"fmt"
	"time"

	"course-booking-engine/internal/domain"
)

type RulesType string

const (
	RulesUnlimited        RulesType = "unlimited"
	RulesCredits          RulesType = "credits"
	RulesMetered          RulesType = "metered"
	RulesRestrictedAccess RulesType = "restricted_access"
)

type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// BookingRules is the closed set of booking policies a plan can carry.
// Values are decoded once at the storage boundary; downstream code switches
// on the concrete type.
type BookingRules interface {
	Type() RulesType
	isBookingRules()
}

type UnlimitedRules struct{}

type CreditRules struct {
	InitialAmount int
}

type MeteredRules struct {
	Period Period
	Count  int
}

// RestrictedAccessRules allows open sessions only; gated sessions are denied.
type RestrictedAccessRules struct{}

func (UnlimitedRules) Type() RulesType        { return RulesUnlimited }
func (CreditRules) Type() RulesType           { return RulesCredits }
func (MeteredRules) Type() RulesType          { return RulesMetered }
func (RestrictedAccessRules) Type() RulesType { return RulesRestrictedAccess }

func (UnlimitedRules) isBookingRules()        {}
func (CreditRules) isBookingRules()           {}
func (MeteredRules) isBookingRules()          {}
func (RestrictedAccessRules) isBookingRules() {}

type rulesWire struct {
	Type          RulesType `json:"type"`
	InitialAmount int       `json:"initial_amount,omitempty"`
	Period        Period    `json:"period,omitempty"`
	Count         int       `json:"count,omitempty"`
}

// DecodeBookingRules parses the stored JSON form of a plan's rules.
func DecodeBookingRules(raw []byte) (BookingRules, error) {
	var w rulesWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: booking rules: %v", domain.ErrInvalidArgument, err)
	}
	switch w.Type {
	case RulesUnlimited:
		return UnlimitedRules{}, nil
	case RulesRestrictedAccess:
		return RestrictedAccessRules{}, nil
	case RulesCredits:
		if w.InitialAmount < 0 {
			return nil, fmt.Errorf("%w: negative initial credits", domain.ErrInvalidArgument)
		}
		return CreditRules{InitialAmount: w.InitialAmount}, nil
	case RulesMetered:
		if w.Period != PeriodWeek && w.Period != PeriodMonth {
			return nil, fmt.Errorf("%w: metered period %q", domain.ErrInvalidArgument, w.Period)
		}
		if w.Count <= 0 {
			return nil, fmt.Errorf("%w: metered count must be positive", domain.ErrInvalidArgument)
		}
		return MeteredRules{Period: w.Period, Count: w.Count}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rules type %q", domain.ErrInvalidArgument, w.Type)
	}
}

// EncodeBookingRules is the inverse of DecodeBookingRules.
func EncodeBookingRules(r BookingRules) ([]byte, error) {
	w := rulesWire{}
	switch v := r.(type) {
	case UnlimitedRules:
		w.Type = RulesUnlimited
	case RestrictedAccessRules:
		w.Type = RulesRestrictedAccess
	case CreditRules:
		w.Type, w.InitialAmount = RulesCredits, v.InitialAmount
	case MeteredRules:
		w.Type, w.Period, w.Count = RulesMetered, v.Period, v.Count
	default:
		return nil, domain.ErrInvalidArgument
	}
	return json.Marshal(w)
}

// MembershipPlan is a purchasable plan. PriceRef points at the price object
// of the payment processor.
type MembershipPlan struct {
	ID             string
	Name           string
	Rules          BookingRules
	DurationMonths int
	PriceRef       string
	CreatedAt      time.Time
}

func (p *MembershipPlan) IsZero() bool { return p == nil || p.ID == "" }

// InitialCredits is the balance granted on purchase, zero for non-credit plans.
func (p *MembershipPlan) InitialCredits() int {
	if c, ok := p.Rules.(CreditRules); ok {
		return c.InitialAmount
	}
	return 0
}

func NewMembershipPlan(id, name string, rules BookingRules, durationMonths int, priceRef string) (*MembershipPlan, error) {
	if id == "" || name == "" || rules == nil || durationMonths <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &MembershipPlan{
		ID:             id,
		Name:           name,
		Rules:          rules,
		DurationMonths: durationMonths,
		PriceRef:       priceRef,
		CreatedAt:      time.Now(),
	}, nil
}

type planJSON struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Rules          json.RawMessage `json:"rules"`
	DurationMonths int             `json:"duration_months"`
	PriceRef       string          `json:"price_ref"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (p MembershipPlan) MarshalJSON() ([]byte, error) {
	rules, err := EncodeBookingRules(p.Rules)
	if err != nil {
		return nil, err
	}
	return json.Marshal(planJSON{
		ID:             p.ID,
		Name:           p.Name,
		Rules:          rules,
		DurationMonths: p.DurationMonths,
		PriceRef:       p.PriceRef,
		CreatedAt:      p.CreatedAt,
	})
}

func (p *MembershipPlan) UnmarshalJSON(b []byte) error {
	var w planJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	rules, err := DecodeBookingRules(w.Rules)
	if err != nil {
		return err
	}
	*p = MembershipPlan{
		ID:             w.ID,
		Name:           w.Name,
		Rules:          rules,
		DurationMonths: w.DurationMonths,
		PriceRef:       w.PriceRef,
		CreatedAt:      w.CreatedAt,
	}
	return nil
}
