//go:build integration

package integration

import (
	"net/http"
	"regexp"
	"testing"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

type checkoutRequest struct {
	ProductIDs      []string `json:"product_ids,omitempty"`
	DeliveryAddress string   `json:"delivery_address"`
	Notes           string   `json:"notes,omitempty"`
}

func TestCheckout_FullCart(t *testing.T) {
	const buyer = "buyer-checkout-full"

	resp := doPostAs(t, "/api/cart/items", addItemRequest{ProductID: "prod-003", Quantity: 2}, buyer)
	resp.Body.Close()
	resp = doPostAs(t, "/api/cart/discount", discountRequest{Code: "FRESH10"}, buyer)
	resp.Body.Close()

	resp = doPostAs(t, "/api/checkout", checkoutRequest{DeliveryAddress: "12 Orchard Lane"}, buyer)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	out := decodeJSON[checkoutResponse](t, resp)
	if !uuidPattern.MatchString(out.OrderID) {
		t.Errorf("order_id is not a uuid: %q", out.OrderID)
	}
	if out.Status != "complete" {
		t.Errorf("status: got %q, want complete", out.Status)
	}
	// 2 dozen eggs at $7.00 = $14.00; 10% off = $1.40; under the free
	// shipping threshold, so $5.99 shipping. 14.00 - 1.40 + 5.99 = 18.59.
	if out.Subtotal != 14.0 {
		t.Errorf("subtotal: got %v, want 14.0", out.Subtotal)
	}
	if out.DiscountAmount != 1.4 {
		t.Errorf("discount_amount: got %v, want 1.4", out.DiscountAmount)
	}
	if out.Shipping != 5.99 {
		t.Errorf("shipping: got %v, want 5.99", out.Shipping)
	}
	if out.Total != 18.59 {
		t.Errorf("total: got %v, want 18.59", out.Total)
	}

	// The cart is retired after a full checkout.
	cartResp := doGetAs(t, "/api/cart", buyer)
	defer cartResp.Body.Close()
	c := decodeJSON[cartResponse](t, cartResp)
	if len(c.Items) != 0 {
		t.Errorf("cart items after checkout: got %d, want 0", len(c.Items))
	}
}

func TestCheckout_FreeShippingOverThreshold(t *testing.T) {
	const buyer = "buyer-checkout-freeship"

	resp := doPostAs(t, "/api/cart/items", addItemRequest{ProductID: "prod-009", Quantity: 4}, buyer)
	resp.Body.Close()

	resp = doPostAs(t, "/api/checkout", checkoutRequest{DeliveryAddress: "3 Hill Rd"}, buyer)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// 4 lb bacon at $13.00 = $52.00, above the $50 threshold.
	out := decodeJSON[checkoutResponse](t, resp)
	if out.Shipping != 0 {
		t.Errorf("shipping: got %v, want 0", out.Shipping)
	}
	if out.Total != 52.0 {
		t.Errorf("total: got %v, want 52.0", out.Total)
	}
}

func TestCheckout_Subset(t *testing.T) {
	const buyer = "buyer-checkout-subset"

	resp := doPostAs(t, "/api/cart/items", addItemRequest{ProductID: "prod-006", Quantity: 1}, buyer)
	resp.Body.Close()
	resp = doPostAs(t, "/api/cart/items", addItemRequest{ProductID: "prod-008", Quantity: 1}, buyer)
	resp.Body.Close()

	resp = doPostAs(t, "/api/checkout", checkoutRequest{
		ProductIDs:      []string{"prod-006"},
		DeliveryAddress: "7 Mill Creek Way",
	}, buyer)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	out := decodeJSON[checkoutResponse](t, resp)
	if out.Subtotal != 8.0 {
		t.Errorf("subtotal: got %v, want 8.0", out.Subtotal)
	}
	if out.Total != 13.99 {
		t.Errorf("total: got %v, want 13.99", out.Total)
	}

	// The untouched entry survives in the cart.
	cartResp := doGetAs(t, "/api/cart", buyer)
	defer cartResp.Body.Close()
	c := decodeJSON[cartResponse](t, cartResp)
	if len(c.Items) != 1 || c.Items[0].ProductID != "prod-008" {
		t.Errorf("cart after subset checkout: %+v", c.Items)
	}
}

func TestCheckout_MixedFarmersRejected(t *testing.T) {
	const buyer = "buyer-checkout-mixed"

	resp := doPostAs(t, "/api/cart/items", addItemRequest{ProductID: "prod-001", Quantity: 1}, buyer)
	resp.Body.Close()
	resp = doPostAs(t, "/api/cart/items", addItemRequest{ProductID: "prod-004", Quantity: 1}, buyer)
	resp.Body.Close()

	resp = doPostAs(t, "/api/checkout", checkoutRequest{DeliveryAddress: "9 Split Farm Rd"}, buyer)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCheckout_MissingAddress(t *testing.T) {
	const buyer = "buyer-checkout-noaddr"

	resp := doPostAs(t, "/api/cart/items", addItemRequest{ProductID: "prod-001", Quantity: 1}, buyer)
	resp.Body.Close()

	resp = doPostAs(t, "/api/checkout", checkoutRequest{}, buyer)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	const buyer = "buyer-checkout-empty"

	resp := doPostAs(t, "/api/checkout", checkoutRequest{DeliveryAddress: "1 Nowhere"}, buyer)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCheckout_OrderReadBack(t *testing.T) {
	const buyer = "buyer-checkout-readback"

	resp := doPostAs(t, "/api/cart/items", addItemRequest{ProductID: "prod-007", Quantity: 2}, buyer)
	resp.Body.Close()

	resp = doPostAs(t, "/api/checkout", checkoutRequest{DeliveryAddress: "4 Granary St", Notes: "leave at gate"}, buyer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checkout: expected 200, got %d", resp.StatusCode)
	}
	out := decodeJSON[checkoutResponse](t, resp)
	resp.Body.Close()

	orderResp := doGet(t, "/api/orders/"+out.OrderID)
	defer orderResp.Body.Close()

	if orderResp.StatusCode != http.StatusOK {
		t.Fatalf("get order: expected 200, got %d", orderResp.StatusCode)
	}

	o := decodeJSON[orderResponse](t, orderResp)
	if o.BuyerID != buyer {
		t.Errorf("buyer_id: got %q, want %q", o.BuyerID, buyer)
	}
	if o.FarmerID != "farm-mill-creek" {
		t.Errorf("farmer_id: got %q, want farm-mill-creek", o.FarmerID)
	}
	if o.Status != "complete" {
		t.Errorf("status: got %q, want complete", o.Status)
	}
	if len(o.Items) != 1 {
		t.Fatalf("items: got %d, want 1", len(o.Items))
	}
	if o.Items[0].Quantity != 2 {
		t.Errorf("item quantity: got %d, want 2", o.Items[0].Quantity)
	}
	if o.Items[0].PricePerUnit != 6.75 {
		t.Errorf("price_per_unit: got %v, want 6.75", o.Items[0].PricePerUnit)
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	resp := doWebhook(t, map[string]string{
		"payment_reference": "pay_nonexistent",
		"status":            "captured",
	}, "wrong-secret")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWebhook_UnknownReferenceAccepted(t *testing.T) {
	resp := doWebhook(t, map[string]string{
		"payment_reference": "pay_never_seen",
		"status":            "captured",
	}, webhookSecret)
	defer resp.Body.Close()

	// Unknown references are acknowledged for later pickup, not rejected.
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

func TestWebhook_DuplicateConfirmationIsIdempotent(t *testing.T) {
	const buyer = "buyer-webhook-dup"

	resp := doPostAs(t, "/api/cart/items", addItemRequest{ProductID: "prod-010", Quantity: 1}, buyer)
	resp.Body.Close()

	resp = doPostAs(t, "/api/checkout", checkoutRequest{DeliveryAddress: "2 Cider House"}, buyer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checkout: expected 200, got %d", resp.StatusCode)
	}
	out := decodeJSON[checkoutResponse](t, resp)
	resp.Body.Close()

	// Replay the confirmation for an order that already completed.
	whResp := doWebhook(t, map[string]string{
		"payment_reference": out.PaymentReference,
		"status":            "captured",
	}, webhookSecret)
	defer whResp.Body.Close()

	if whResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", whResp.StatusCode)
	}

	// Still exactly one order with the original total.
	orderResp := doGet(t, "/api/orders/"+out.OrderID)
	defer orderResp.Body.Close()
	o := decodeJSON[orderResponse](t, orderResp)
	if o.TotalPrice != out.Total {
		t.Errorf("total changed on replay: got %v, want %v", o.TotalPrice, out.Total)
	}
}
