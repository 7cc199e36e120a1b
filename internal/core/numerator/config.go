// Package numerator provides domain contracts for document auto-numbering.
package numerator

import "sort"

// DocumentType identifies an independent counter within a tenant.
type DocumentType string

const (
	TypeInvoice           DocumentType = "Rechnung"
	TypeQuote             DocumentType = "Angebot"
	TypeStorno            DocumentType = "Storno"
	TypeCustomer          DocumentType = "Kunde"
	TypeSupplier          DocumentType = "Lieferant"
	TypePartner           DocumentType = "Partner"
	TypeProspect          DocumentType = "Interessenten"
	TypeDeliveryNote      DocumentType = "Lieferschein"
	TypeCreditNote        DocumentType = "Gutschrift"
	TypeOrderConfirmation DocumentType = "Auftragsbestätigung"
	TypeDebtor            DocumentType = "Debitor"
	TypeCreditor          DocumentType = "Kreditor"
	TypeProduct           DocumentType = "Produkt"
	TypeInventory         DocumentType = "Inventar"
	TypeContact           DocumentType = "Kontakt"
)

// Config holds the seed and formatting template of a counter.
type Config struct {
	// Seed is the first number handed out when the counter is created.
	Seed int64

	// Format is the template, e.g. "RE-{number}", "{number:4}" or "KD-%NUMBER".
	Format string

	// Prefix is prepended unless the formatted value already starts with it.
	Prefix string
}

var defaults = map[DocumentType]Config{
	TypeInvoice:           {Seed: 1, Format: "RE-{number}"},
	TypeQuote:             {Seed: 1001, Format: "AN-{number}"},
	TypeStorno:            {Seed: 1, Format: "ST-{number}"},
	TypeCustomer:          {Seed: 1000, Format: "KD-%NUMBER"},
	TypeSupplier:          {Seed: 1, Format: "LF-%NUMBER"},
	TypePartner:           {Seed: 1, Format: "PA-%NUMBER"},
	TypeProspect:          {Seed: 1, Format: "IN-%NUMBER"},
	TypeDeliveryNote:      {Seed: 1, Format: "LI-{number}"},
	TypeCreditNote:        {Seed: 1, Format: "GU-{number}"},
	TypeOrderConfirmation: {Seed: 1, Format: "AB-{number}"},
	TypeDebtor:            {Seed: 10000, Format: "%NUMBER"},
	TypeCreditor:          {Seed: 70000, Format: "%NUMBER"},
	TypeProduct:           {Seed: 1001, Format: "%NUMBER"},
	TypeInventory:         {Seed: 1000, Format: "%NUMBER"},
	TypeContact:           {Seed: 1000, Format: "%NUMBER"},
}

// DefaultConfig returns the provisioning config of a document type.
// Unknown types start at 1 with a bare "{number}" template.
func DefaultConfig(dt DocumentType) Config {
	if cfg, ok := defaults[dt]; ok {
		return cfg
	}
	return Config{Seed: 1, Format: "{number}"}
}

// DefaultTypes lists every document type with a built-in config, sorted by name.
func DefaultTypes() []DocumentType {
	types := make([]DocumentType, 0, len(defaults))
	for dt := range defaults {
		types = append(types, dt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
