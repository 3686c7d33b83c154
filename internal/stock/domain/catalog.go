package domain

import "time"

// Program groups the products a facility reports on
type Program struct {
	ID        int64     `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Product is a catalog entry
type Product struct {
	ID          int64     `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	PrimaryName string    `db:"primary_name" json:"primary_name"`
	Strength    string    `db:"strength" json:"strength,omitempty"`
	Unit        string    `db:"unit" json:"unit,omitempty"`
	Active      bool      `db:"active" json:"active"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ProgramWithProducts is one entry of the facility catalog
type ProgramWithProducts struct {
	Program  Program
	Products []Product
}

// RequisitionStatus is the server-side state of a requisition form
type RequisitionStatus string

const (
	RequisitionDraft      RequisitionStatus = "DRAFT"
	RequisitionSubmitted  RequisitionStatus = "SUBMITTED"
	RequisitionAuthorized RequisitionStatus = "AUTHORIZED"
	RequisitionInApproval RequisitionStatus = "IN_APPROVAL"
	RequisitionApproved   RequisitionStatus = "APPROVED"
)

// RequisitionForm is a periodic report and order for one program
type RequisitionForm struct {
	ID          int64             `db:"id" json:"id"`
	ProgramCode string            `db:"program_code" json:"program_code"`
	PeriodBegin time.Time         `db:"period_begin" json:"period_begin"`
	PeriodEnd   time.Time         `db:"period_end" json:"period_end"`
	Status      RequisitionStatus `db:"status" json:"status"`
	Emergency   bool              `db:"emergency" json:"emergency"`
	SubmittedAt *time.Time        `db:"submitted_at" json:"submitted_at,omitempty"`
	Synced      bool              `db:"synced" json:"synced"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`

	Items []RequisitionItem `db:"-" json:"items"`
}

// RequisitionItem is one product line of a requisition form
type RequisitionItem struct {
	ID                int64  `db:"id" json:"id"`
	FormID            int64  `db:"form_id" json:"form_id"`
	ProductCode       string `db:"product_code" json:"product_code"`
	BeginningBalance  int64  `db:"beginning_balance" json:"beginning_balance"`
	Received          int64  `db:"received" json:"received"`
	Issued            int64  `db:"issued" json:"issued"`
	Adjustment        int64  `db:"adjustment" json:"adjustment"`
	Inventory         int64  `db:"inventory" json:"inventory"`
	CalculatedOrder   int64  `db:"calculated_order" json:"calculated_order"`
	RequestedQuantity *int64 `db:"requested_quantity" json:"requested_quantity,omitempty"`
	ApprovedQuantity  *int64 `db:"approved_quantity" json:"approved_quantity,omitempty"`
}
