package domain

// Application is the signed submission payload. Validation tags are enforced
// at ingress by go-playground/validator; field errors are returned to the
// caller keyed by the JSON path.
type Application struct {
	Personal  Personal  `json:"personal" validate:"required"`
	Contact   Contact   `json:"contact" validate:"required"`
	Financial Financial `json:"financial" validate:"required"`
	Loan      Loan      `json:"loan" validate:"required"`
	Vehicle   Vehicle   `json:"vehicle" validate:"required"`
	Dealer    Dealer    `json:"dealer" validate:"required"`
}

// Personal identifies the applicant.
type Personal struct {
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	DateOfBirth string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	SIN         string `json:"sin" validate:"required,len=9,numeric"`
}

// Contact carries reachability and address details.
type Contact struct {
	Email   string  `json:"email" validate:"required,email,max=254"`
	Phone   string  `json:"phone" validate:"required,min=10,max=20"`
	Address Address `json:"address" validate:"required"`
}

// Address is the applicant's current residence.
type Address struct {
	Street     string `json:"street" validate:"required,max=200"`
	City       string `json:"city" validate:"required,max=100"`
	Province   string `json:"province" validate:"required,len=2,alpha"`
	PostalCode string `json:"postal_code" validate:"required,max=7"`
}

// Financial describes income and obligations used by the credit gates.
type Financial struct {
	AnnualIncome     float64 `json:"annual_income" validate:"required,gt=0,lte=10000000"`
	EmploymentType   string  `json:"employment_type" validate:"required,oneof=full_time part_time self_employed contract retired unemployed"`
	EmploymentMonths int     `json:"employment_months" validate:"gte=0,lte=720"`
	CreditScore      int     `json:"credit_score" validate:"required,gte=300,lte=900"`
	MonthlyDebt      float64 `json:"monthly_debt" validate:"gte=0"`
	MonthlyHousing   float64 `json:"monthly_housing" validate:"gte=0"`
}

// Loan is the requested financing structure.
type Loan struct {
	Amount        float64 `json:"amount" validate:"required,gt=0,lte=500000"`
	TermMonths    int     `json:"term_months" validate:"required,gte=12,lte=96"`
	Rate          float64 `json:"rate" validate:"gte=0,lte=50"`
	DownPayment   float64 `json:"down_payment" validate:"gte=0"`
	PurchasePrice float64 `json:"purchase_price" validate:"required,gt=0"`
}

// Vehicle is the collateral being financed.
type Vehicle struct {
	Year    int     `json:"year" validate:"required,gte=1980,lte=2100"`
	Make    string  `json:"make" validate:"required,max=50"`
	Model   string  `json:"model" validate:"required,max=50"`
	VIN     string  `json:"vin" validate:"required,len=17"`
	Value   float64 `json:"value" validate:"required,gt=0"`
	Mileage int     `json:"mileage" validate:"gte=0,lte=1000000"`
}

// Dealer identifies the originating dealership.
type Dealer struct {
	ID       string `json:"id" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
	Province string `json:"province" validate:"required,len=2,alpha"`
}
