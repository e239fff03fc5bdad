package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Network identifies a mobile network operator.
type Network string

const (
	NetworkAirtel  Network = "airtel"
	NetworkAfricel Network = "africel"
	NetworkOrange  Network = "orange"
	NetworkVodacom Network = "vodacom"
)

// Valid reports whether the network is one of the supported operators.
func (n Network) Valid() bool {
	switch n {
	case NetworkAirtel, NetworkAfricel, NetworkOrange, NetworkVodacom:
		return true
	}
	return false
}

// OutflowCategory classifies a cash outflow.
type OutflowCategory string

const (
	CategoryPurchaseAirtime  OutflowCategory = "PURCHASE_AIRTIME"
	CategoryOperatingExpense OutflowCategory = "OPERATING_EXPENSE"
	CategorySalary           OutflowCategory = "SALARY"
	CategoryRent             OutflowCategory = "RENT"
	CategoryOther            OutflowCategory = "OTHER"
)

// Valid reports whether the category is a known outflow category.
func (c OutflowCategory) Valid() bool {
	switch c {
	case CategoryPurchaseAirtime, CategoryOperatingExpense, CategorySalary, CategoryRent, CategoryOther:
		return true
	}
	return false
}

// SaleItem is one line of a sale: a quantity of airtime on one network.
type SaleItem struct {
	Network             Network          `json:"network" validate:"required"`
	Quantity            int              `json:"quantity" validate:"required,min=1"`
	PricePerUnitApplied *decimal.Decimal `json:"price_per_unit_applied,omitempty"`
}

// SalePayload is the wire body for a queued sale, matching the server's
// POST /api/v1/sales contract.
type SalePayload struct {
	ClientChoice     string          `json:"client_choice" validate:"required,oneof=existing new"`
	ExistingClientID string          `json:"existing_client_id,omitempty"`
	NewClientName    string          `json:"new_client_name,omitempty"`
	SaleItems        []SaleItem      `json:"sale_items" validate:"required,min=1,dive"`
	CashPaid         decimal.Decimal `json:"cash_paid"`
}

// StockPurchasePayload is the wire body for a queued stock purchase,
// matching POST /api/v1/stock-purchases.
type StockPurchasePayload struct {
	Network                    Network          `json:"network" validate:"required"`
	AmountPurchased            int              `json:"amount_purchased" validate:"required,min=1"`
	BuyingPriceChoice          string           `json:"buying_price_choice" validate:"required"`
	CustomBuyingPrice          *decimal.Decimal `json:"custom_buying_price,omitempty"`
	IntendedSellingPriceChoice string           `json:"intended_selling_price_choice" validate:"required"`
	CustomIntendedSellingPrice *decimal.Decimal `json:"custom_intended_selling_price,omitempty"`
}

// CashOutflowPayload is the wire body for a queued cash outflow,
// matching POST /api/v1/cash-outflows.
type CashOutflowPayload struct {
	Amount      decimal.Decimal `json:"amount"`
	Category    OutflowCategory `json:"category" validate:"required"`
	Description string          `json:"description,omitempty"`
}

// DecodePayload unmarshals a raw queued payload into the typed struct for
// its kind. The queue stores payloads opaquely; callers that need fields
// decode through here.
func DecodePayload(kind OperationKind, raw json.RawMessage) (interface{}, error) {
	switch kind {
	case KindSale:
		var p SalePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode sale payload: %w", err)
		}
		return &p, nil
	case KindStockPurchase:
		var p StockPurchasePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode stock purchase payload: %w", err)
		}
		return &p, nil
	case KindCashOutflow:
		var p CashOutflowPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode cash outflow payload: %w", err)
		}
		return &p, nil
	}
	return nil, fmt.Errorf("unknown operation kind: %q", kind)
}
