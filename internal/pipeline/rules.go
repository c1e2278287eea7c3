package pipeline

import (
	"strings"
	"time"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// checkFn is one predicate over an application. Predicates are pure: no IO,
// no clock reads outside the evaluator's injected Now.
type checkFn func(ev *RuleEvaluator, app domain.Application) bool

// checkRegistry binds pack check names to predicates. Adding a rule to the
// pack never requires code changes unless it needs a new predicate.
var checkRegistry = map[string]checkFn{
	"sin_invalid": func(ev *RuleEvaluator, app domain.Application) bool {
		return !ValidSIN(app.Personal.SIN)
	},
	"sin_denied": func(ev *RuleEvaluator, app domain.Application) bool {
		return ev.Pack.Denied("sin", HashIdentifier(ev.Salt, "sin", app.Personal.SIN))
	},
	"email_denied": func(ev *RuleEvaluator, app domain.Application) bool {
		return ev.Pack.Denied("email", HashIdentifier(ev.Salt, "email", app.Contact.Email))
	},
	"phone_denied": func(ev *RuleEvaluator, app domain.Application) bool {
		return ev.Pack.Denied("phone", HashIdentifier(ev.Salt, "phone", app.Contact.Phone))
	},
	"vin_denied": func(ev *RuleEvaluator, app domain.Application) bool {
		return ev.Pack.Denied("vin", HashIdentifier(ev.Salt, "vin", app.Vehicle.VIN))
	},
	"underage": func(ev *RuleEvaluator, app domain.Application) bool {
		return ageYears(app.Personal.DateOfBirth, ev.now()) < 18
	},
	"young_applicant": func(ev *RuleEvaluator, app domain.Application) bool {
		age := ageYears(app.Personal.DateOfBirth, ev.now())
		return age >= 18 && age < 21
	},
	"disposable_email": func(ev *RuleEvaluator, app domain.Application) bool {
		return emailDomainCategory(app.Contact.Email) == 2
	},
	"thin_credit": func(ev *RuleEvaluator, app domain.Application) bool {
		return app.Financial.CreditScore < 560
	},
	"new_employment": func(ev *RuleEvaluator, app domain.Application) bool {
		t := app.Financial.EmploymentType
		return (t == "full_time" || t == "part_time" || t == "contract") && app.Financial.EmploymentMonths < 3
	},
	"unemployed_large_loan": func(ev *RuleEvaluator, app domain.Application) bool {
		return app.Financial.EmploymentType == "unemployed" && app.Loan.Amount > 10000
	},
	"extreme_ltv": func(ev *RuleEvaluator, app domain.Application) bool {
		if app.Vehicle.Value <= 0 {
			return false
		}
		return app.Loan.Amount/app.Vehicle.Value > 1.5
	},
	"loan_income_stretch": func(ev *RuleEvaluator, app domain.Application) bool {
		if app.Financial.AnnualIncome <= 0 {
			return false
		}
		return app.Loan.Amount/app.Financial.AnnualIncome > 1.0
	},
	"zero_down_high_value": func(ev *RuleEvaluator, app domain.Application) bool {
		return app.Loan.DownPayment == 0 && app.Vehicle.Value > 60000
	},
	"province_mismatch": func(ev *RuleEvaluator, app domain.Application) bool {
		return !strings.EqualFold(app.Contact.Address.Province, app.Dealer.Province)
	},
	"postal_province_mismatch": func(ev *RuleEvaluator, app domain.Application) bool {
		return !postalMatchesProvince(app.Contact.Address.PostalCode, app.Contact.Address.Province)
	},
	"odometer_rollback_shape": func(ev *RuleEvaluator, app domain.Application) bool {
		// A nearly-new year with implausibly low mileage on a low value.
		age := vehicleAgeYears(app.Vehicle.Year, ev.now())
		return age >= 5 && app.Vehicle.Mileage < 5000
	},
}

// RuleEvaluator applies a rule pack to applications.
type RuleEvaluator struct {
	Pack *RulePack
	Salt string
	Now  func() time.Time
}

// NewRuleEvaluator wires an evaluator for a loaded pack.
func NewRuleEvaluator(pack *RulePack, salt string) *RuleEvaluator {
	return &RuleEvaluator{Pack: pack, Salt: salt, Now: time.Now}
}

func (ev *RuleEvaluator) now() time.Time {
	if ev.Now != nil {
		return ev.Now()
	}
	return time.Now()
}

// Evaluate runs every pack rule. Hard rule hits set HardFail; soft rule
// weights accumulate into RuleScore, capped at 1.0. Flags list the codes of
// every rule that fired, in pack order.
func (ev *RuleEvaluator) Evaluate(app domain.Application) domain.RulesOutput {
	out := domain.RulesOutput{
		RuleFlags:       []string{},
		RulepackVersion: ev.Pack.Version,
	}
	for _, r := range ev.Pack.Rules {
		if !checkRegistry[r.Check](ev, app) {
			continue
		}
		out.RuleFlags = append(out.RuleFlags, r.Code)
		switch r.Kind {
		case RuleHard:
			out.HardFail = true
		case RuleSoft:
			out.RuleScore += r.Weight
		}
	}
	if out.RuleScore > 1.0 {
		out.RuleScore = 1.0
	}
	return out
}

// ValidSIN checks a Canadian SIN: nine digits, non-degenerate, and passing
// the Luhn checksum. A leading 0 or 8 is not an issued series.
func ValidSIN(sin string) bool {
	s := NormalizeIdentifier("sin", sin)
	if len(s) != 9 {
		return false
	}
	if s[0] == '0' || s[0] == '8' {
		return false
	}
	allSame := true
	sum := 0
	for i := 0; i < 9; i++ {
		d := int(s[i] - '0')
		if s[i] != s[0] {
			allSame = false
		}
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return !allSame && sum%10 == 0
}

func ageYears(dob string, now time.Time) int {
	t, err := time.Parse("2006-01-02", dob)
	if err != nil {
		return -1
	}
	years := now.Year() - t.Year()
	if now.YearDay() < t.YearDay() {
		years--
	}
	return years
}

func vehicleAgeYears(year int, now time.Time) int {
	age := now.Year() - year
	if age < 0 {
		age = 0
	}
	return age
}
