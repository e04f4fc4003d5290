package core

import "time"

// Debtor is a member without a payment mark for the reported month.
type Debtor struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// Report is the monthly payment summary sent to the administrator.
type Report struct {
	Month   Month    `json:"month"`
	Paid    int      `json:"paid"`
	Total   int      `json:"total"`
	Debtors []Debtor `json:"debtors"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Complete reports whether every member has paid.
func (r Report) Complete() bool {
	return len(r.Debtors) == 0
}
