package orders

import "github.com/joao-fontenele/storefront-orders/internal/domain"

// PricedLine pairs a product, as read under lock, with the ordered quantity.
type PricedLine struct {
	Product  domain.Product
	Quantity int
}

// Build assembles a PENDING order with one line item per input line, in
// input order, each priced at the product's current price. lines must not be
// empty.
func Build(user domain.User, lines []PricedLine) *domain.Order {
	if len(lines) == 0 {
		panic("orders: Build called with no lines")
	}

	order := &domain.Order{
		User:   user.Ref(),
		Status: domain.OrderStatusPending,
		Items:  make([]domain.LineItem, 0, len(lines)),
	}

	for _, line := range lines {
		order.Items = append(order.Items, domain.LineItem{
			Product:   line.Product.Ref(),
			Quantity:  line.Quantity,
			UnitPrice: line.Product.Price,
		})
	}

	order.ComputeTotal()
	return order
}
