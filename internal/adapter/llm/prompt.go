package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// PromptTemplateVersion is recorded on every analysis for audit.
const PromptTemplateVersion = "adjudicator-v1"

const systemPrompt = `You are a senior fraud adjudicator for Canadian auto-loan applications.
Analyze the case file and respond with a single JSON object matching the
provided schema. Be conservative: when signals conflict, prefer review over
approve. Ground every concern in a field of the case file; do not invent
facts. Ratios use decimal form (0.15 means 15%).`

// CaseFile is the PII-free projection sent to the model. It carries bands
// and derived ratios instead of raw identifiers: no name, SIN, email, phone,
// street address, or VIN ever crosses this boundary.
type CaseFile struct {
	AgeBand          string  `json:"age_band"`
	Province         string  `json:"province"`
	IncomeBracket    string  `json:"income_bracket"`
	EmploymentType   string  `json:"employment_type"`
	EmploymentMonths int     `json:"employment_months"`
	CreditScore      int     `json:"credit_score"`
	PTI              float64 `json:"pti"`
	TDS              float64 `json:"tds"`
	LTV              float64 `json:"ltv"`
	LoanAmount       float64 `json:"loan_amount"`
	TermMonths       int     `json:"term_months"`
	DownPaymentPct   float64 `json:"down_payment_pct"`
	VehicleYear      int     `json:"vehicle_year"`
	VehicleValue     float64 `json:"vehicle_value"`
	MileageKM        int     `json:"mileage_km"`
	DealerProvince   string  `json:"dealer_province"`

	RuleFlags []string `json:"rule_flags"`
	RuleScore float64  `json:"rule_score"`

	MLConfidence *float64 `json:"ml_confidence,omitempty"`
	TopFeatures  []string `json:"top_features,omitempty"`
}

// BuildCaseFile projects an application plus upstream stage outputs into the
// model-facing view.
func BuildCaseFile(app domain.Application, rules domain.RulesOutput, ml *domain.MLOutput, now time.Time) CaseFile {
	cf := CaseFile{
		AgeBand:          ageBand(app.Personal.DateOfBirth, now),
		Province:         strings.ToUpper(app.Contact.Address.Province),
		IncomeBracket:    incomeBracket(app.Financial.AnnualIncome),
		EmploymentType:   app.Financial.EmploymentType,
		EmploymentMonths: app.Financial.EmploymentMonths,
		CreditScore:      app.Financial.CreditScore,
		PTI:              round4(monthlyPayment(app.Loan) * 12 / nonZero(app.Financial.AnnualIncome)),
		TDS:              round4((app.Financial.MonthlyDebt + app.Financial.MonthlyHousing + monthlyPayment(app.Loan)) * 12 / nonZero(app.Financial.AnnualIncome)),
		LTV:              round4(app.Loan.Amount / nonZero(app.Vehicle.Value)),
		LoanAmount:       app.Loan.Amount,
		TermMonths:       app.Loan.TermMonths,
		DownPaymentPct:   round4(app.Loan.DownPayment / nonZero(app.Loan.PurchasePrice)),
		VehicleYear:      app.Vehicle.Year,
		VehicleValue:     app.Vehicle.Value,
		MileageKM:        app.Vehicle.Mileage,
		DealerProvince:   strings.ToUpper(app.Dealer.Province),
		RuleFlags:        RedactAll(rules.RuleFlags),
		RuleScore:        rules.RuleScore,
	}
	if ml != nil {
		conf := ml.ConfidenceScore
		cf.MLConfidence = &conf
		for _, tf := range ml.TopFeatures {
			cf.TopFeatures = append(cf.TopFeatures, tf.Name)
		}
	}
	return cf
}

// monthlyPayment amortizes the loan at its quoted rate; a zero rate degrades
// to straight division.
func monthlyPayment(l domain.Loan) float64 {
	if l.TermMonths <= 0 {
		return 0
	}
	r := l.Rate / 100 / 12
	if r <= 0 {
		return l.Amount / float64(l.TermMonths)
	}
	pow := 1.0
	for i := 0; i < l.TermMonths; i++ {
		pow *= 1 + r
	}
	return l.Amount * r * pow / (pow - 1)
}

func nonZero(f float64) float64 {
	if f == 0 {
		return 1
	}
	return f
}

func round4(f float64) float64 {
	return float64(int64(f*10000+0.5)) / 10000
}

func ageBand(dob string, now time.Time) string {
	t, err := time.Parse("2006-01-02", dob)
	if err != nil {
		return "unknown"
	}
	years := int(now.Sub(t).Hours() / 24 / 365.25)
	switch {
	case years < 21:
		return "18-20"
	case years < 26:
		return "21-25"
	case years < 36:
		return "26-35"
	case years < 51:
		return "36-50"
	case years < 66:
		return "51-65"
	default:
		return "66+"
	}
}

func incomeBracket(income float64) string {
	switch {
	case income < 30000:
		return "<30k"
	case income < 60000:
		return "30k-60k"
	case income < 100000:
		return "60k-100k"
	case income < 150000:
		return "100k-150k"
	default:
		return "150k+"
	}
}

// PromptBuilder renders the user message and enforces the token budget.
type PromptBuilder struct {
	MaxPromptTokens int

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// Build renders the case file into the user prompt. When the rendered prompt
// exceeds the budget the variable-length lists are trimmed before giving up.
func (b *PromptBuilder) Build(cf CaseFile) (string, error) {
	for trim := 0; trim <= 2; trim++ {
		body, err := json.MarshalIndent(cf, "", "  ")
		if err != nil {
			return "", fmt.Errorf("op=prompt.Build: %w", err)
		}
		prompt := "Case file:\n" + string(body) + "\nRespond with the adjudication JSON object only."
		if b.MaxPromptTokens <= 0 || b.countTokens(prompt) <= b.MaxPromptTokens {
			return prompt, nil
		}
		// Drop the longest free-form lists first; the structured fields are
		// small and must survive.
		switch trim {
		case 0:
			cf.TopFeatures = nil
		case 1:
			cf.RuleFlags = truncateList(cf.RuleFlags, 3)
		}
	}
	return "", fmt.Errorf("op=prompt.Build: %w: prompt exceeds %d tokens", domain.ErrInvalidPayload, b.MaxPromptTokens)
}

func (b *PromptBuilder) countTokens(s string) int {
	b.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, falling back to estimate", "error", err)
			return
		}
		b.enc = enc
	})
	if b.enc == nil {
		// Rough heuristic: one token per four characters.
		return len(s) / 4
	}
	return len(b.enc.Encode(s, nil, nil))
}

func truncateList(ss []string, n int) []string {
	if len(ss) <= n {
		return ss
	}
	return ss[:n]
}
