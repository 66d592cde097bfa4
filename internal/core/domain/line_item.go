package domain

import (
	"encoding/base64"
	"errors"
	"slices"
	"strconv"
	"strings"
)

var ErrInvalidItemKey = errors.New("invalid item key")

// Customization is what the shopper picked on the product page.
type Customization struct {
	SelectedOptionIDs []int64 `json:"selectedOptionIds"`
	Notes             string  `json:"notes,omitempty"`
}

// Fingerprint encodes the customization canonically: option ids are sorted
// and de-duplicated, notes are trimmed and quoted. Two customizations that
// differ only in selection order share a fingerprint.
func (c Customization) Fingerprint() string {
	ids := slices.Clone(c.SelectedOptionIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var b strings.Builder
	b.WriteString("opts=")
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	if notes := strings.TrimSpace(c.Notes); notes != "" {
		b.WriteString(";notes=")
		b.WriteString(strconv.Quote(notes))
	}
	return b.String()
}

// ItemKey identifies a line in a cart.
type ItemKey struct {
	ProductID   string
	Fingerprint string
}

// String returns the URL-safe line id used by the HTTP surface.
func (k ItemKey) String() string {
	return base64.RawURLEncoding.EncodeToString([]byte(k.ProductID + "\x00" + k.Fingerprint))
}

func ParseItemKey(s string) (ItemKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return ItemKey{}, ErrInvalidItemKey
	}
	productID, fingerprint, ok := strings.Cut(string(raw), "\x00")
	if !ok || productID == "" {
		return ItemKey{}, ErrInvalidItemKey
	}
	return ItemKey{ProductID: productID, Fingerprint: fingerprint}, nil
}

type LineItem struct {
	ProductID     string        `json:"productId"`
	Fingerprint   string        `json:"fingerprint"`
	Customization Customization `json:"customization"`
	UnitPrice     Money         `json:"unitPrice"`
	Quantity      int           `json:"quantity"`
	DisplayName   string        `json:"displayName"`
	ImageRef      string        `json:"imageRef,omitempty"`
}

func NewLineItem(productID, name string, unitPrice Money, quantity int, c Customization) LineItem {
	return LineItem{
		ProductID:     productID,
		Fingerprint:   c.Fingerprint(),
		Customization: c,
		UnitPrice:     unitPrice,
		Quantity:      quantity,
		DisplayName:   name,
	}
}

func (li LineItem) Key() ItemKey {
	return ItemKey{ProductID: li.ProductID, Fingerprint: li.Fingerprint}
}

func (li LineItem) LineTotal() Money {
	return li.UnitPrice.Mul(li.Quantity)
}
