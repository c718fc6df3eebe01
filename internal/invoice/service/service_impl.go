// Package service implements invoice generation and rendering.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingcycledomain "github.com/boardroomhq/boardroom/internal/billingcycle/domain"
	"github.com/boardroomhq/boardroom/internal/clock"
	invoicedomain "github.com/boardroomhq/boardroom/internal/invoice/domain"
	invoiceformat "github.com/boardroomhq/boardroom/internal/invoice/format"
	"github.com/boardroomhq/boardroom/internal/invoice/render"
	"github.com/boardroomhq/boardroom/pkg/db/option"
	"github.com/boardroomhq/boardroom/pkg/repository"
)

// taxRate is the flat tax applied to every invoice total.
var taxRate = decimal.RequireFromString("0.08")

// dueInDays is the payment term applied at issue time.
const dueInDays = 14

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	invoiceRepo repository.Repository[invoicedomain.Invoice]
	itemRepo    repository.Repository[invoicedomain.Item]
	cyclesvc    billingcycledomain.Service
	html        render.HTMLRenderer
	pdf         render.PDFRenderer
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cyclesvc billingcycledomain.Service
	HTML     render.HTMLRenderer
	PDF      render.PDFRenderer
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		invoiceRepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		itemRepo:    repository.ProvideStore[invoicedomain.Item](p.DB),
		cyclesvc:    p.Cyclesvc,
		html:        p.HTML,
		pdf:         p.PDF,
	}
}

// Generate implements domain.Service.
func (s *Service) Generate(ctx context.Context, billingCycleID snowflake.ID) (invoicedomain.Invoice, error) {
	cycle, err := s.cyclesvc.Get(ctx, billingCycleID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	cycleItems, err := s.cyclesvc.GetLineItems(ctx, billingCycleID)
	if err != nil {
		return invoicedomain.Invoice{}, fmt.Errorf("load cycle line items: %w", err)
	}

	now := s.clock.Now()
	seq, err := s.invoiceRepo.Count(ctx, &invoicedomain.Invoice{})
	if err != nil {
		return invoicedomain.Invoice{}, fmt.Errorf("count invoices: %w", err)
	}
	number, err := invoiceformat.FormatInvoiceNumber(invoiceformat.DefaultInvoiceNumberTemplate, now, seq+1)
	if err != nil {
		return invoicedomain.Invoice{}, fmt.Errorf("format invoice number: %w", err)
	}

	subtotal := cycle.Total
	tax := subtotal.Mul(taxRate).Round(2)
	inv := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		Number:         number,
		BillingCycleID: cycle.ID,
		SubscriptionID: cycle.SubscriptionID,
		UserID:         cycle.UserID,
		Tier:           cycle.Tier,
		Status:         invoicedomain.StatusDraft,
		Subtotal:       subtotal,
		TaxRate:        taxRate,
		TaxAmount:      tax,
		Total:          subtotal.Add(tax),
		IssuedAt:       now,
		DueAt:          now.AddDate(0, 0, dueInDays),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	items := make([]*invoicedomain.Item, 0, len(cycleItems))
	for _, ci := range cycleItems {
		items = append(items, &invoicedomain.Item{
			ID:          s.genID.Generate(),
			InvoiceID:   inv.ID,
			Description: ci.Description,
			Quantity:    ci.Quantity,
			UnitPrice:   ci.UnitPrice,
			Amount:      ci.Amount,
			CreatedAt:   now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.invoiceRepo.WithTrx(tx).Create(ctx, &inv); err != nil {
			return err
		}
		return s.itemRepo.WithTrx(tx).BatchCreate(ctx, items)
	})
	if err != nil {
		return invoicedomain.Invoice{}, fmt.Errorf("create invoice: %w", err)
	}

	s.log.Info("invoice.generated",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("number", inv.Number),
		zap.String("total", inv.Total.String()),
	)
	return inv, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	inv, err := s.invoiceRepo.FindOne(ctx, &invoicedomain.Invoice{ID: id})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if inv == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *inv, nil
}

// GetItems implements domain.Service.
func (s *Service) GetItems(ctx context.Context, invoiceID snowflake.ID) ([]invoicedomain.Item, error) {
	rows, err := s.itemRepo.Find(ctx, &invoicedomain.Item{InvoiceID: invoiceID}, option.WithOrder("id ASC"))
	if err != nil {
		return nil, err
	}
	items := make([]invoicedomain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row)
	}
	return items, nil
}

// ListForUser implements domain.Service.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]invoicedomain.Invoice, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invoicedomain.ErrInvalidUser
	}
	rows, err := s.invoiceRepo.Find(ctx, &invoicedomain.Invoice{UserID: userID}, option.WithOrder("issued_at DESC"))
	if err != nil {
		return nil, err
	}
	invoices := make([]invoicedomain.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, *row)
	}
	return invoices, nil
}

// MarkSent implements domain.Service.
func (s *Service) MarkSent(ctx context.Context, id snowflake.ID) error {
	return s.setStatus(ctx, id, map[string]interface{}{
		"status":     invoicedomain.StatusSent,
		"updated_at": s.clock.Now(),
	})
}

// MarkPaid implements domain.Service.
func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	return s.setStatus(ctx, id, map[string]interface{}{
		"status":     invoicedomain.StatusPaid,
		"paid_at":    now,
		"updated_at": now,
	})
}

func (s *Service) setStatus(ctx context.Context, id snowflake.ID, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return invoicedomain.ErrInvoiceNotFound
	}
	return nil
}

// RenderHTML implements domain.Service.
func (s *Service) RenderHTML(ctx context.Context, id snowflake.ID) (string, error) {
	input, err := s.renderInput(ctx, id)
	if err != nil {
		return "", err
	}
	return s.html.Render(input)
}

// RenderPDF implements domain.Service.
func (s *Service) RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error) {
	input, err := s.renderInput(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.pdf.Render(input)
}

func (s *Service) renderInput(ctx context.Context, id snowflake.ID) (render.Input, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return render.Input{}, err
	}
	items, err := s.GetItems(ctx, id)
	if err != nil {
		return render.Input{}, err
	}

	in := render.Input{
		Number:   inv.Number,
		UserID:   inv.UserID,
		Plan:     string(inv.Tier),
		IssuedAt: inv.IssuedAt,
		DueAt:    inv.DueAt,
		Subtotal: inv.Subtotal,
		TaxRate:  inv.TaxRate,
		Tax:      inv.TaxAmount,
		Total:    inv.Total,
	}
	for _, item := range items {
		in.Items = append(in.Items, render.Item{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      item.Amount,
		})
	}
	return in, nil
}
