package domain

import "github.com/shopspring/decimal"

type Product struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	CategoryID *int64          `json:"category_id,omitempty"`
}

// ProductRef is the display projection of a product carried by a line item.
type ProductRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (p Product) Ref() ProductRef {
	return ProductRef{ID: p.ID, Name: p.Name}
}
