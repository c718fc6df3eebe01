package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Generate drafts an invoice for a billing cycle, applying the flat tax
	// rate to the cycle total. Calling it twice for the same cycle produces
	// two invoices.
	Generate(ctx context.Context, billingCycleID snowflake.ID) (Invoice, error)

	Get(ctx context.Context, id snowflake.ID) (Invoice, error)
	GetItems(ctx context.Context, invoiceID snowflake.ID) ([]Item, error)
	ListForUser(ctx context.Context, userID string) ([]Invoice, error)
	MarkSent(ctx context.Context, id snowflake.ID) error
	MarkPaid(ctx context.Context, id snowflake.ID) error

	RenderHTML(ctx context.Context, id snowflake.ID) (string, error)
	RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error)
}

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrInvalidUser     = errors.New("invalid_user")
)
