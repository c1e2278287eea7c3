package pipeline

import (
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// FeatureSetVersion tags every vector so the scoring service can refuse a
// vector built for a different model generation.
const FeatureSetVersion = "features-v1"

// FeatureNames is the fixed vector layout, in order. The scoring service
// depends on this ordering; never reorder, only append in a new version.
var FeatureNames = []string{
	"age",
	"sin_valid",
	"email_domain_category",
	"phone_reuse_count",
	"email_reuse_count",
	"vin_reuse_flag",
	"dealer_volume_24h",
	"dealer_fraud_percentile",
	"province_ip_mismatch",
	"address_postal_match",
	"loan_to_value_ratio",
	"purchase_loan_ratio",
	"dp_income_ratio",
	"mileage_plausibility",
	"high_value_low_income",
}

// Extractor derives the numeric feature vector. Each feature degrades to a
// documented default on missing or erroring inputs; a single bad feature
// never aborts the stage.
type Extractor struct {
	Reuse       domain.ReuseCounter
	Salt        string
	ReuseWindow time.Duration
	// GeoProvince resolves a client IP to a province code; nil disables the
	// province_ip_mismatch signal (feature stays 0).
	GeoProvince func(ip string) string
	// DealerFraudPercentile looks up the dealer's historical fraud rank in
	// [0,1]; nil yields the population median 0.5.
	DealerFraudPercentile func(dealerID string) float64
	Now                   func() time.Time
}

// NewExtractor wires an extractor with the reuse store and salt.
func NewExtractor(reuse domain.ReuseCounter, salt string, window time.Duration) *Extractor {
	return &Extractor{Reuse: reuse, Salt: salt, ReuseWindow: window, Now: time.Now}
}

// Extract builds the ordered vector for one application.
func (e *Extractor) Extract(ctx domain.Context, app domain.Application, clientIP string) domain.FeatureVector {
	now := e.Now()
	since := now.Add(-e.ReuseWindow)

	v := make([]float64, 0, domain.FeatureCount)

	// age: defaults to the portfolio median when the date fails to parse.
	age := ageYears(app.Personal.DateOfBirth, now)
	if age < 0 {
		age = 40
	}
	v = append(v, float64(age))

	v = append(v, boolFeature(ValidSIN(app.Personal.SIN)))
	v = append(v, float64(emailDomainCategory(app.Contact.Email)))

	v = append(v, clampF(float64(e.reuseCount(ctx, "phone", app.Contact.Phone, since)), 0, 10))
	v = append(v, clampF(float64(e.reuseCount(ctx, "email", app.Contact.Email, since)), 0, 10))
	v = append(v, boolFeature(e.reuseCount(ctx, "vin", app.Vehicle.VIN, since) > 0))

	v = append(v, clampF(float64(e.dealerVolume(ctx, app.Dealer.ID, now)), 0, 50))
	v = append(v, e.dealerPercentile(app.Dealer.ID))

	v = append(v, boolFeature(e.provinceIPMismatch(clientIP, app.Contact.Address.Province)))
	v = append(v, boolFeature(postalMatchesProvince(app.Contact.Address.PostalCode, app.Contact.Address.Province)))

	v = append(v, ratio(app.Loan.Amount, app.Vehicle.Value, 3))
	v = append(v, ratio(app.Loan.PurchasePrice, app.Loan.Amount, 5))
	v = append(v, ratio(app.Loan.DownPayment, app.Financial.AnnualIncome, 2))

	v = append(v, mileagePlausibility(app.Vehicle.Year, app.Vehicle.Mileage, now))
	v = append(v, boolFeature(app.Vehicle.Value > 0.8*app.Financial.AnnualIncome))

	return domain.FeatureVector{
		Names:             FeatureNames,
		Values:            v,
		FeatureSetVersion: FeatureSetVersion,
	}
}

func (e *Extractor) reuseCount(ctx domain.Context, kind, value string, since time.Time) int {
	if e.Reuse == nil {
		return 0
	}
	n, err := e.Reuse.CountRecentByIdentifier(ctx, kind, HashIdentifier(e.Salt, kind, value), since)
	if err != nil {
		slog.Warn("reuse lookup failed, defaulting to 0", "kind", kind, "error", err)
		return 0
	}
	return n
}

func (e *Extractor) dealerVolume(ctx domain.Context, dealerID string, now time.Time) int {
	if e.Reuse == nil {
		return 0
	}
	n, err := e.Reuse.CountDealerRecent(ctx, dealerID, now.Add(-24*time.Hour))
	if err != nil {
		slog.Warn("dealer volume lookup failed, defaulting to 0", "error", err)
		return 0
	}
	return n
}

func (e *Extractor) dealerPercentile(dealerID string) float64 {
	if e.DealerFraudPercentile == nil {
		return 0.5
	}
	return clampF(e.DealerFraudPercentile(dealerID), 0, 1)
}

func (e *Extractor) provinceIPMismatch(clientIP, province string) bool {
	if e.GeoProvince == nil || clientIP == "" {
		return false
	}
	geo := e.GeoProvince(clientIP)
	if geo == "" {
		return false
	}
	return !strings.EqualFold(geo, province)
}

// emailDomainCategory buckets the email's domain: 0 other, 1 free-mail,
// 2 disposable.
func emailDomainCategory(email string) int {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return 0
	}
	dom := strings.ToLower(email[at+1:])
	if disposableDomains[dom] {
		return 2
	}
	if freeMailDomains[dom] {
		return 1
	}
	return 0
}

var freeMailDomains = map[string]bool{
	"gmail.com": true, "outlook.com": true, "hotmail.com": true,
	"yahoo.com": true, "yahoo.ca": true, "icloud.com": true,
	"live.com": true, "live.ca": true, "protonmail.com": true, "proton.me": true,
}

var disposableDomains = map[string]bool{
	"mailinator.com": true, "guerrillamail.com": true, "10minutemail.com": true,
	"tempmail.com": true, "throwaway.email": true, "yopmail.com": true,
	"sharklasers.com": true, "getnada.com": true, "trashmail.com": true,
}

// fsaProvince maps the first letter of a Canadian postal code to provinces
// that use it. X covers both territories.
var fsaProvince = map[byte][]string{
	'A': {"NL"},
	'B': {"NS"},
	'C': {"PE"},
	'E': {"NB"},
	'G': {"QC"}, 'H': {"QC"}, 'J': {"QC"},
	'K': {"ON"}, 'L': {"ON"}, 'M': {"ON"}, 'N': {"ON"}, 'P': {"ON"},
	'R': {"MB"},
	'S': {"SK"},
	'T': {"AB"},
	'V': {"BC"},
	'X': {"NT", "NU"},
	'Y': {"YT"},
}

func postalMatchesProvince(postal, province string) bool {
	p := strings.ToUpper(strings.TrimSpace(postal))
	if p == "" {
		return false
	}
	provs, ok := fsaProvince[p[0]]
	if !ok {
		return false
	}
	for _, pr := range provs {
		if strings.EqualFold(pr, province) {
			return true
		}
	}
	return false
}

// mileagePlausibility is observed mileage over the ~20,000 km/year expected
// accumulation, clamped to [0,5]. Values near 1 are plausible; near 0 on an
// old vehicle suggests rollback, far above suggests fleet abuse.
func mileagePlausibility(year, mileage int, now time.Time) float64 {
	age := vehicleAgeYears(year, now)
	if age == 0 {
		age = 1
	}
	expected := float64(age) * 20000
	return clampF(float64(mileage)/expected, 0, 5)
}

func ratio(num, den, limit float64) float64 {
	if den <= 0 {
		return 0
	}
	return clampF(num/den, 0, limit)
}

func clampF(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
