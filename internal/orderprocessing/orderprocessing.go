// Package orderprocessing is the order fulfillment orchestration used by the
// orderflow service: verify inventory, take payment, commit the inventory
// update, and compensate with a refund if the commit fails.
package orderprocessing

import (
	"fmt"

	"github.com/corvid-labs/durable/orchestration"
)

type OrderPayload struct {
	ItemName  string  `json:"item_name"`
	Quantity  int     `json:"quantity"`
	TotalCost float64 `json:"total_cost"`
}

type OrderResult struct {
	Processed bool   `json:"processed"`
	Message   string `json:"message,omitempty"`
}

type InventoryRequest struct {
	RequestID string `json:"request_id"`
	ItemName  string `json:"item_name"`
	Quantity  int    `json:"quantity"`
}

type InventoryResult struct {
	Success      bool `json:"success"`
	QuantityLeft int  `json:"quantity_left"`
}

type PaymentRequest struct {
	RequestID string  `json:"request_id"`
	ItemName  string  `json:"item_name"`
	Amount    float64 `json:"amount"`
}

type orderStatus struct {
	Stage string `json:"stage"`
}

// ProcessOrder is the order fulfillment orchestration.
func ProcessOrder(ctx orchestration.Context, order OrderPayload) (OrderResult, error) {
	logger := orchestration.Logger(ctx)
	orderID := orchestration.InstanceID(ctx)
	opts := orchestration.DefaultActivityOptions

	var acts Activities

	if _, err := orchestration.ExecuteActivity[any](ctx, opts, acts.Notify,
		Notification{Message: fmt.Sprintf("received order %s for %d %s", orderID, order.Quantity, order.ItemName)},
	); err != nil {
		return OrderResult{}, err
	}

	_ = orchestration.SetCustomStatus(ctx, orderStatus{Stage: "verifying inventory"})

	verify, err := orchestration.ExecuteActivity[InventoryResult](ctx, opts, acts.VerifyInventory, InventoryRequest{
		RequestID: orderID,
		ItemName:  order.ItemName,
		Quantity:  order.Quantity,
	})
	if err != nil {
		return OrderResult{}, err
	}

	if !verify.Success {
		if _, err := orchestration.ExecuteActivity[any](ctx, opts, acts.Notify,
			Notification{Message: fmt.Sprintf("insufficient inventory for %s", order.ItemName)},
		); err != nil {
			return OrderResult{}, err
		}

		return OrderResult{Processed: false, Message: "insufficient inventory"}, nil
	}

	_ = orchestration.SetCustomStatus(ctx, orderStatus{Stage: "processing payment"})

	if _, err := orchestration.ExecuteActivity[Receipt](ctx, opts, acts.ProcessPayment, PaymentRequest{
		RequestID: orderID,
		ItemName:  order.ItemName,
		Amount:    order.TotalCost,
	}); err != nil {
		return OrderResult{}, err
	}

	_ = orchestration.SetCustomStatus(ctx, orderStatus{Stage: "updating inventory"})

	if _, err := orchestration.ExecuteActivity[InventoryResult](ctx, opts, acts.UpdateInventory, InventoryRequest{
		RequestID: orderID,
		ItemName:  order.ItemName,
		Quantity:  order.Quantity,
	}); err != nil {
		logger.Error("inventory update failed, refunding payment", "order_id", orderID)

		// Compensate the payment already taken
		if _, err := orchestration.ExecuteActivity[Receipt](ctx, opts, acts.RefundPayment, PaymentRequest{
			RequestID: orderID,
			ItemName:  order.ItemName,
			Amount:    order.TotalCost,
		}); err != nil {
			return OrderResult{}, err
		}

		if _, err := orchestration.ExecuteActivity[any](ctx, opts, acts.Notify,
			Notification{Message: fmt.Sprintf("order %s failed during inventory update, payment refunded", orderID)},
		); err != nil {
			return OrderResult{}, err
		}

		return OrderResult{Processed: false, Message: "failed during inventory update"}, nil
	}

	if _, err := orchestration.ExecuteActivity[any](ctx, opts, acts.Notify,
		Notification{Message: fmt.Sprintf("order %s completed", orderID)},
	); err != nil {
		return OrderResult{}, err
	}

	return OrderResult{Processed: true}, nil
}
