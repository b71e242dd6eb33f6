package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/messaging"
)

// NotificationHandler turns order events into customer emails.
type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: strings.TrimRight(emailServiceURL, "/"),
		httpClient:      client,
		logger:          logger,
	}
}

type emailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// HandleOrderCreated sends the invoice for a newly placed order.
func (h *NotificationHandler) HandleOrderCreated(ctx context.Context, msg messaging.Message) error {
	if msg.EventType != "" && msg.EventType != domain.EventTypeOrderCreated {
		h.logger.Warn("skipping unexpected event", "event_type", msg.EventType, "key", msg.Key)
		return nil
	}

	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return messaging.Discard(fmt.Errorf("unmarshal order created event: %w", err))
	}

	h.logger.Info("processing order created event", "order_id", event.OrderID, "customer_id", event.Customer.ID)

	if err := h.sendEmail(ctx, invoiceEmail(event)); err != nil {
		h.logger.Error("failed to send invoice email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send invoice email: %w", err)
	}

	h.logger.Info("invoice sent", "order_id", event.OrderID, "to", event.Customer.Email)
	return nil
}

// HandleStatusChanged tells the customer about a status transition.
func (h *NotificationHandler) HandleStatusChanged(ctx context.Context, msg messaging.Message) error {
	if msg.EventType != "" && msg.EventType != domain.EventTypeOrderStatusChanged {
		h.logger.Warn("skipping unexpected event", "event_type", msg.EventType, "key", msg.Key)
		return nil
	}

	var event domain.OrderStatusChangedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return messaging.Discard(fmt.Errorf("unmarshal order status changed event: %w", err))
	}

	h.logger.Info("processing order status changed event",
		"order_id", event.OrderID,
		"previous_status", event.PreviousStatus,
		"status", event.Status,
	)

	if err := h.sendEmail(ctx, statusEmail(event)); err != nil {
		h.logger.Error("failed to send status email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send status email: %w", err)
	}

	return nil
}

func invoiceEmail(event domain.OrderCreatedEvent) emailRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nThanks for your order #%d placed on %s.\n\n",
		event.Customer.Name, event.OrderID, event.CreatedAt.Format("2006-01-02 15:04 MST"))

	for _, line := range event.Items {
		fmt.Fprintf(&b, "%d x %s @ %s = %s\n",
			line.Quantity, line.ProductName, line.UnitPrice.StringFixed(2), line.LineTotal.StringFixed(2))
	}

	fmt.Fprintf(&b, "\nTotal: %s\n", event.Total.StringFixed(2))

	return emailRequest{
		To:      event.Customer.Email,
		Subject: fmt.Sprintf("Invoice for order #%d", event.OrderID),
		Body:    b.String(),
	}
}

func statusEmail(event domain.OrderStatusChangedEvent) emailRequest {
	body := fmt.Sprintf("Your order #%d is now %s.", event.OrderID, event.Status)
	if event.Status == domain.OrderStatusCancelled {
		body = fmt.Sprintf("Your order #%d has been cancelled. You will be reimbursed.", event.OrderID)
	}

	return emailRequest{
		To:      event.CustomerEmail,
		Subject: fmt.Sprintf("Order #%d: %s", event.OrderID, event.Status),
		Body:    body,
	}
}

func (h *NotificationHandler) sendEmail(ctx context.Context, email emailRequest) error {
	data, err := json.Marshal(email)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
