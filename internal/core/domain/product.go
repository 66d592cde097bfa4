package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnknownOption    = errors.New("unknown customization option")
	ErrInvalidSelection = errors.New("invalid customization selection")
)

type CustomizationType string

const (
	CustomizationRadio    CustomizationType = "radio"
	CustomizationCheckbox CustomizationType = "checkbox"
	CustomizationText     CustomizationType = "text"
)

type CustomizationOption struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	PriceImpact     Money  `json:"priceImpact"`
	DefaultSelected bool   `json:"defaultSelected"`
}

type ProductCustomization struct {
	ID      int64                 `json:"id"`
	Name    string                `json:"name"`
	Type    CustomizationType     `json:"type"`
	Options []CustomizationOption `json:"options"`
}

type Product struct {
	ID             int64                  `json:"id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Category       string                 `json:"category,omitempty"`
	BasePrice      Money                  `json:"basePrice"`
	ImageURL       string                 `json:"imageUrl,omitempty"`
	Customizations []ProductCustomization `json:"productCustomizations"`
}

func (p *Product) Key() string {
	return strconv.FormatInt(p.ID, 10)
}

// PriceFor returns the unit price of the product with the given options
// selected: base price plus every option's price impact.
func (p *Product) PriceFor(optionIDs []int64) (Money, error) {
	price := p.BasePrice
	radioPicks := make(map[int64]int)
	seen := make(map[int64]bool, len(optionIDs))

	for _, id := range optionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		cust, opt, ok := p.option(id)
		if !ok {
			return 0, fmt.Errorf("%w: %d on product %d", ErrUnknownOption, id, p.ID)
		}
		if cust.Type == CustomizationRadio {
			radioPicks[cust.ID]++
			if radioPicks[cust.ID] > 1 {
				return 0, fmt.Errorf("%w: more than one %q", ErrInvalidSelection, cust.Name)
			}
		}
		price += opt.PriceImpact
	}
	return price, nil
}

func (p *Product) option(id int64) (ProductCustomization, CustomizationOption, bool) {
	for _, cust := range p.Customizations {
		for _, opt := range cust.Options {
			if opt.ID == id {
				return cust, opt, true
			}
		}
	}
	return ProductCustomization{}, CustomizationOption{}, false
}
