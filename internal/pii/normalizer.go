// Package pii canonicalizes and hashes customer fields into Conversions API
// match keys. Canonical forms follow the platform's normalization rules so
// the same person hashes identically across sources.
package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"conversions/models"
)

// Field is a user_data key.
type Field string

const (
	Email     Field = "em"
	Phone     Field = "ph"
	FirstName Field = "fn"
	LastName  Field = "ln"
	City      Field = "ct"
	State     Field = "st"
	Zip       Field = "zp"
	Country   Field = "country"
)

// Fields lists every normalized field in payload order.
var Fields = []Field{Email, Phone, FirstName, LastName, City, State, Zip, Country}

// Normalized holds canonical values keyed by field. A field whose value is
// missing or canonicalizes to nothing has no key at all.
type Normalized map[Field]string

// Has reports whether the field is present.
func (n Normalized) Has(f Field) bool {
	_, ok := n[f]
	return ok
}

// Hashed returns the SHA-256 hex digest of every present field.
func (n Normalized) Hashed() map[Field]string {
	out := make(map[Field]string, len(n))
	for f, v := range n {
		out[f] = Hash(v)
	}
	return out
}

type Normalizer struct {
	callingCode string
}

// NewNormalizer uses callingCode (digits only, e.g. "44") to complete phone numbers.
func NewNormalizer(callingCode string) *Normalizer {
	return &Normalizer{callingCode: digitsOnly(callingCode)}
}

// Normalize picks each field from the customer, then billing, then shipping
// address and canonicalizes it.
func (n *Normalizer) Normalize(order *models.OrderEvent) Normalized {
	var (
		cust = order.Customer
		bill = order.BillingAddress
		ship = order.ShippingAddress
	)
	if cust == nil {
		cust = &models.Customer{}
	}
	if bill == nil {
		bill = &models.Address{}
	}
	if ship == nil {
		ship = &models.Address{}
	}

	out := Normalized{}
	set := func(f Field, v string) {
		if v != "" {
			out[f] = v
		}
	}

	set(Email, NormalizeEmail(first(cust.Email, order.Email)))
	set(Phone, NormalizePhone(first(cust.Phone, bill.Phone, ship.Phone), n.callingCode))
	set(FirstName, NormalizeName(first(cust.FirstName, bill.FirstName, ship.FirstName)))
	set(LastName, NormalizeName(first(cust.LastName, bill.LastName, ship.LastName)))
	set(City, NormalizeName(first(bill.City, ship.City)))
	set(State, NormalizeUpper(first(bill.ProvinceCode, ship.ProvinceCode)))
	set(Zip, NormalizePostal(first(bill.Zip, ship.Zip)))
	set(Country, NormalizeUpper(first(bill.CountryCode, ship.CountryCode)))
	return out
}

func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone keeps digits only and prefixes the calling code when it is
// not already there, dropping trunk zeros first ("07911..." -> "447911...").
func NormalizePhone(s, callingCode string) string {
	d := digitsOnly(s)
	if d == "" {
		return ""
	}
	if callingCode == "" || strings.HasPrefix(d, callingCode) {
		return d
	}
	d = strings.TrimLeft(d, "0")
	if d == "" {
		return ""
	}
	return callingCode + d
}

// NormalizeName lowercases, decomposes (NFKD), drops combining marks and
// punctuation other than hyphens and underscores, and collapses whitespace. Used for names and cities.
func NormalizeName(s string) string {
	s = norm.NFKD.String(strings.ToLower(strings.TrimSpace(s)))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Mn, r):
		case r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeUpper is used for region and country codes.
func NormalizeUpper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func NormalizePostal(s string) string {
	return strings.TrimSpace(s)
}

// Hash returns the lowercase hex SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func first(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
