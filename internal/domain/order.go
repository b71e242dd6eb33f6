package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	Product   ProductRef      `json:"product"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal is quantity times the captured unit price.
func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID        int64           `json:"id"`
	User      UserRef         `json:"user"`
	Status    OrderStatus     `json:"status"`
	Items     []LineItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// ComputeTotal recalculates Total from the line items.
func (o *Order) ComputeTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	o.Total = total
}
