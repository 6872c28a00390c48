package order

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type DeliveryOption string

const (
	DeliveryPickup  DeliveryOption = "pickup"
	DeliveryDropOff DeliveryOption = "drop-off"
)

type LineItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Rating is the buyer's post-completion score for one line item.
type Rating struct {
	ProductID string `json:"product_id"`
	Score     int    `json:"score"`
	Comment   string `json:"comment,omitempty"`
}

type Order struct {
	ID              string         `json:"id"`
	BuyerID         string         `json:"buyer_id"`
	SellerID        string         `json:"seller_id"`
	Items           []LineItem     `json:"items"`
	Total           float64        `json:"total"`
	Delivery        DeliveryOption `json:"delivery_option"`
	Address         string         `json:"address,omitempty"`
	Lat             float64        `json:"lat,omitempty"`
	Lng             float64        `json:"lng,omitempty"`
	Status          Status         `json:"status"`
	SellerConfirmed bool           `json:"seller_confirmed"`
	BuyerConfirmed  bool           `json:"buyer_confirmed"`
	DeliveryProof   string         `json:"delivery_proof,omitempty"`
	ReceiptProof    string         `json:"receipt_proof,omitempty"`
	CancelReason    string         `json:"cancel_reason,omitempty"`
	Ratings         []Rating       `json:"ratings,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Rated reports whether the buyer already scored this order.
func (o *Order) Rated() bool {
	return len(o.Ratings) > 0
}

// SubTotal recomputes the total from line items. The server's stored total
// is authoritative; this exists for display checks only.
func (o *Order) SubTotal() float64 {
	var sum float64
	for _, item := range o.Items {
		sum += item.UnitPrice * float64(item.Quantity)
	}
	return sum
}

// clone returns a copy safe to hand to callbacks.
func (o *Order) clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	cp.Ratings = append([]Rating(nil), o.Ratings...)
	return &cp
}
