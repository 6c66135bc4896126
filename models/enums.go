package models

type CreditNoteStatus string

const (
	CreditNoteStatusPending   CreditNoteStatus = "Pending"
	CreditNoteStatusValidated CreditNoteStatus = "Validated"
)

// Document number prefixes. Delivery numbers are client-supplied and only
// validated; credit note numbers are generated per calendar month.
const (
	CreditNoteNumberPrefix = "AV"
	DeliveryNumberPrefix   = "BL"
)
