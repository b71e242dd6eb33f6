package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ChannelOrderCreated = "order.created"
	ChannelOrderUpdated = "order.updated"
)

const (
	EventTypeOrderCreated       = "OrderCreated"
	EventTypeOrderStatusChanged = "OrderStatusChanged"
)

type Customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type InvoiceLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type OrderCreatedEvent struct {
	EventID   string          `json:"event_id"`
	OrderID   int64           `json:"order_id"`
	Customer  Customer        `json:"customer"`
	Items     []InvoiceLine   `json:"items"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

func (OrderCreatedEvent) EventType() string { return EventTypeOrderCreated }

// NewOrderCreatedEvent takes a point-in-time copy of the order for billing.
func NewOrderCreatedEvent(eventID string, order *Order) OrderCreatedEvent {
	lines := make([]InvoiceLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, InvoiceLine{
			ProductID:   item.Product.ID,
			ProductName: item.Product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal(),
		})
	}

	return OrderCreatedEvent{
		EventID: eventID,
		OrderID: order.ID,
		Customer: Customer{
			ID:    order.User.ID,
			Name:  order.User.Username,
			Email: order.User.Email,
		},
		Items:     lines,
		Total:     order.Total,
		CreatedAt: order.CreatedAt,
	}
}

type OrderStatusChangedEvent struct {
	EventID        string      `json:"event_id"`
	OrderID        int64       `json:"order_id"`
	CustomerEmail  string      `json:"customer_email"`
	PreviousStatus OrderStatus `json:"previous_status"`
	Status         OrderStatus `json:"status"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

func (OrderStatusChangedEvent) EventType() string { return EventTypeOrderStatusChanged }
