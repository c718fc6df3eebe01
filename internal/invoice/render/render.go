// Package render produces invoice documents in HTML and PDF form.
package render

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is one priced line in a rendered invoice.
type Item struct {
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
}

// Input carries everything a renderer needs for one invoice.
type Input struct {
	Number   string
	UserID   string
	Plan     string
	IssuedAt time.Time
	DueAt    time.Time
	Items    []Item
	Subtotal decimal.Decimal
	TaxRate  decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// HTMLRenderer renders an invoice as a standalone HTML document.
type HTMLRenderer interface {
	Render(in Input) (string, error)
}

// PDFRenderer renders an invoice as a PDF document.
type PDFRenderer interface {
	Render(in Input) ([]byte, error)
}
