package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	invoicedomain "github.com/boardroomhq/boardroom/internal/invoice/domain"
)

func (s *Server) ListInvoices(c *gin.Context) {
	invoices, err := s.invoiceSvc.ListForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	inv, err := s.requireOwnInvoice(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.invoiceSvc.GetItems(c.Request.Context(), inv.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invoice": inv,
		"items":   items,
	})
}

func (s *Server) RenderInvoiceHTML(c *gin.Context) {
	inv, err := s.requireOwnInvoice(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	html, err := s.invoiceSvc.RenderHTML(c.Request.Context(), inv.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) RenderInvoicePDF(c *gin.Context) {
	inv, err := s.requireOwnInvoice(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pdf, err := s.invoiceSvc.RenderPDF(c.Request.Context(), inv.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+inv.Number+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *Server) SendInvoice(c *gin.Context) {
	inv, err := s.requireOwnInvoice(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.invoiceSvc.MarkSent(c.Request.Context(), inv.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) PayInvoice(c *gin.Context) {
	inv, err := s.requireOwnInvoice(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.invoiceSvc.MarkPaid(c.Request.Context(), inv.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paid"})
}

func (s *Server) requireOwnInvoice(c *gin.Context) (invoicedomain.Invoice, error) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	inv, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if inv.UserID != currentUser(c) {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return inv, nil
}
