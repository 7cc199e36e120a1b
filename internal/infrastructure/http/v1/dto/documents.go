package dto

import (
	"time"

	"bizledger/internal/core/numerator"
	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/domain/documents/quote"
	"bizledger/internal/domain/numbering"
)

// --- Quotes ---

type CreateQuoteRequest struct {
	CustomerName string        `json:"customerName,omitempty"`
	ValidUntil   *time.Time    `json:"validUntil,omitempty"`
	Comment      string        `json:"comment,omitempty"`
	Lines        []LineRequest `json:"lines" binding:"required,min=1,dive"`
	Reserve      bool          `json:"reserve,omitempty"`
}

func (r *CreateQuoteRequest) ToInput() (quote.CreateInput, error) {
	lines, err := ToLines(r.Lines)
	if err != nil {
		return quote.CreateInput{}, err
	}
	return quote.CreateInput{
		CustomerName: r.CustomerName,
		ValidUntil:   r.ValidUntil,
		Lines:        lines,
		Comment:      r.Comment,
		Reserve:      r.Reserve,
	}, nil
}

type QuoteTransitionRequest struct {
	Status quote.Status `json:"status" binding:"required"`
}

// --- Invoices ---

type CreateInvoiceRequest struct {
	CustomerName string        `json:"customerName,omitempty"`
	DueDate      *time.Time    `json:"dueDate,omitempty"`
	Comment      string        `json:"comment,omitempty"`
	Lines        []LineRequest `json:"lines" binding:"required,min=1,dive"`
}

func (r *CreateInvoiceRequest) ToInput() (invoice.CreateInput, error) {
	lines, err := ToLines(r.Lines)
	if err != nil {
		return invoice.CreateInput{}, err
	}
	return invoice.CreateInput{
		CustomerName: r.CustomerName,
		DueDate:      r.DueDate,
		Lines:        lines,
		Comment:      r.Comment,
	}, nil
}

type InvoiceTransitionRequest struct {
	Status invoice.Status `json:"status" binding:"required"`
}

type StornoRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// --- Sequences ---

type UpdateSequenceRequest struct {
	NextNumber *int64  `json:"nextNumber,omitempty"`
	Format     *string `json:"format,omitempty"`
	Prefix     *string `json:"prefix,omitempty"`
	Force      bool    `json:"force,omitempty"`
}

func (r *UpdateSequenceRequest) ToInput() numbering.UpdateInput {
	return numbering.UpdateInput{
		NextNumber: r.NextNumber,
		Format:     r.Format,
		Prefix:     r.Prefix,
		Force:      r.Force,
	}
}

// ProvisionResponse lists the counters created by provisioning.
type ProvisionResponse struct {
	Created []numerator.DocumentType `json:"created"`
}
