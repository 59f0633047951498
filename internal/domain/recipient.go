package domain

import "strings"

// Recipient is the shipping contact for an estimate and an order. Every
// field is required.
type Recipient struct {
	Name        string `json:"name" validate:"notblank,max=200"`
	Email       string `json:"email" validate:"notblank,email,max=254"`
	AddressLine string `json:"address_line" validate:"notblank,max=300"`
	City        string `json:"city" validate:"notblank,max=120"`
	State       string `json:"state" validate:"notblank,max=120"`
	PostalCode  string `json:"postal_code" validate:"notblank,max=20"`
	CountryCode string `json:"country_code" validate:"notblank,iso3166_1_alpha2"`
}

// Normalize trims every field, lowercases the email and uppercases the
// country code.
func (r Recipient) Normalize() Recipient {
	return Recipient{
		Name:        strings.TrimSpace(r.Name),
		Email:       strings.ToLower(strings.TrimSpace(r.Email)),
		AddressLine: strings.TrimSpace(r.AddressLine),
		City:        strings.TrimSpace(r.City),
		State:       strings.TrimSpace(r.State),
		PostalCode:  strings.TrimSpace(r.PostalCode),
		CountryCode: strings.ToUpper(strings.TrimSpace(r.CountryCode)),
	}
}

// Equal compares two recipients after normalization.
func (r Recipient) Equal(other Recipient) bool {
	return r.Normalize() == other.Normalize()
}
