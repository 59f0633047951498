package provider

import "errors"

// ErrNoQuote is returned by QuoteShipping when no rate is offered.
var ErrNoQuote = errors.New("no shipping quote available")
