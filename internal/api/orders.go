package api

import (
	"context"
	"fmt"
	"net/url"

	"pasarlive-client/internal/order"
)

// CreateOrderInput mirrors what the checkout flow submits. The core never
// drives checkout itself; this exists for the companion binary and tests.
type CreateOrderInput struct {
	SellerID string               `json:"seller_id"`
	Items    []order.LineItem     `json:"items"`
	Delivery order.DeliveryOption `json:"delivery_option"`
	Address  string               `json:"address,omitempty"`
	Lat      float64              `json:"lat,omitempty"`
	Lng      float64              `json:"lng,omitempty"`
}

func (c *Client) CreateOrder(ctx context.Context, input CreateOrderInput) (*order.Order, error) {
	var ord order.Order
	if err := c.post(ctx, "/api/orders", input, &ord); err != nil {
		return nil, err
	}
	return &ord, nil
}

// GetOrder returns (nil, nil) when the order does not exist, per the
// contract of order.PersistAPI.
func (c *Client) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	var ord order.Order
	found, err := c.get(ctx, "/api/orders/"+url.PathEscape(id), &ord)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &ord, nil
}

func (c *Client) ListOrders(ctx context.Context, filter order.ListFilter) ([]*order.Order, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", fmt.Sprint(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", fmt.Sprint(filter.Offset))
	}

	path := "/api/orders"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var orders []*order.Order
	if _, err := c.get(ctx, path, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status order.Status) (*order.Order, error) {
	body := map[string]string{"status": string(status)}
	var ord order.Order
	if err := c.post(ctx, "/api/orders/"+url.PathEscape(id)+"/status", body, &ord); err != nil {
		return nil, err
	}
	return &ord, nil
}

// ConfirmDelivery records one party's completion attestation. The platform
// resolves which flag flips from the session token's role; an empty
// proofRef is accepted only for the buyer side.
func (c *Client) ConfirmDelivery(ctx context.Context, id string, proofRef string) (*order.Order, error) {
	body := map[string]string{}
	if proofRef != "" {
		body["proof_ref"] = proofRef
	}
	var ord order.Order
	if err := c.post(ctx, "/api/orders/"+url.PathEscape(id)+"/confirm", body, &ord); err != nil {
		return nil, err
	}
	return &ord, nil
}

func (c *Client) Cancel(ctx context.Context, id string, reason string) (*order.Order, error) {
	body := map[string]string{"reason": reason}
	var ord order.Order
	if err := c.post(ctx, "/api/orders/"+url.PathEscape(id)+"/cancel", body, &ord); err != nil {
		return nil, err
	}
	return &ord, nil
}

func (c *Client) Rate(ctx context.Context, id string, ratings []order.Rating) (*order.Order, error) {
	body := map[string]any{"ratings": ratings}
	var ord order.Order
	if err := c.post(ctx, "/api/orders/"+url.PathEscape(id)+"/rate", body, &ord); err != nil {
		return nil, err
	}
	return &ord, nil
}

func (c *Client) ReportIssue(ctx context.Context, id string, description string) error {
	body := map[string]string{"description": description}
	return c.post(ctx, "/api/orders/"+url.PathEscape(id)+"/issues", body, nil)
}
