package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tailoredletters/internal/types"
)

// newStripeTestClient creates a StripeClient pointed at the given test server
// with no retries and no real sleeps.
func newStripeTestClient(t *testing.T, serverURL string) *StripeClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"stripe-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"TailoredLetters-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	return NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey: "sk_test_123",
		BaseURL:   serverURL,
	})
}

func TestCreateCheckoutSession_SendsServerSidePricing(t *testing.T) {
	var gotPath string
	var gotForm map[string][]string
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotForm = r.PostForm

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/pay/cs_test_1"}`))
	}))
	defer server.Close()

	client := newStripeTestClient(t, server.URL)

	session, err := client.CreateCheckoutSession(context.Background(), CheckoutParams{
		Plan:        types.PlanBasic,
		AmountCents: 399,
		Currency:    "usd",
		Email:       "user@example.com",
		SuccessURL:  "https://app.example.com/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   "https://app.example.com/pricing",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if session.ID != "cs_test_1" {
		t.Errorf("session ID = %q", session.ID)
	}
	if session.URL == "" {
		t.Error("expected a checkout URL")
	}
	if gotPath != "/v1/checkout/sessions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Errorf("auth header = %q", gotAuth)
	}

	expect := map[string]string{
		"mode":                                   "payment",
		"client_reference_id":                    "user@example.com",
		"metadata[plan]":                         "basic",
		"metadata[user_email]":                   "user@example.com",
		"line_items[0][price_data][unit_amount]": "399",
		"line_items[0][price_data][currency]":    "usd",
		"payment_intent_data[receipt_email]":     "user@example.com",
		"payment_intent_data[metadata][plan]":    "basic",
	}
	for key, want := range expect {
		if got := gotForm[key]; len(got) != 1 || got[0] != want {
			t.Errorf("form[%q] = %v, want %q", key, got, want)
		}
	}
}

func TestGetPaymentIntent_MapsFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents/pi_123" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"id": "pi_123",
			"status": "succeeded",
			"amount": 999,
			"currency": "usd",
			"customer": "cus_9",
			"receipt_email": "buyer@example.com",
			"metadata": {"plan": "premium", "user_email": "buyer@example.com"},
			"created": 1717243200
		}`))
	}))
	defer server.Close()

	client := newStripeTestClient(t, server.URL)

	intent, err := client.GetPaymentIntent(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("GetPaymentIntent: %v", err)
	}
	if intent.AmountCents != 999 {
		t.Errorf("amount = %d", intent.AmountCents)
	}
	if intent.ReceiptEmail != "buyer@example.com" {
		t.Errorf("receipt email = %q", intent.ReceiptEmail)
	}
	if intent.Metadata["plan"] != "premium" {
		t.Errorf("metadata plan = %q", intent.Metadata["plan"])
	}
	if intent.CreatedAt.IsZero() {
		t.Error("created timestamp not mapped")
	}
}

func TestGetCheckoutSession_CustomerDetailsEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"id": "cs_1",
			"payment_status": "paid",
			"payment_intent": "pi_77",
			"customer_details": {"email": "buyer@example.com"},
			"amount_total": 399,
			"currency": "usd"
		}`))
	}))
	defer server.Close()

	client := newStripeTestClient(t, server.URL)

	session, err := client.GetCheckoutSession(context.Background(), "cs_1")
	if err != nil {
		t.Fatalf("GetCheckoutSession: %v", err)
	}
	if session.PaymentStatus != "paid" {
		t.Errorf("payment status = %q", session.PaymentStatus)
	}
	if session.PaymentIntentID != "pi_77" {
		t.Errorf("payment intent = %q", session.PaymentIntentID)
	}
	if session.CustomerEmail != "buyer@example.com" {
		t.Errorf("customer email = %q", session.CustomerEmail)
	}
}

func TestLatestSucceededPayment_PicksFirstSucceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/customers":
			if got := r.URL.Query().Get("email"); got != "buyer@example.com" {
				t.Errorf("customer query email = %q", got)
			}
			w.Write([]byte(`{"data":[{"id":"cus_1","email":"buyer@example.com"}]}`))
		case "/v1/payment_intents":
			if got := r.URL.Query().Get("customer"); got != "cus_1" {
				t.Errorf("intents query customer = %q", got)
			}
			w.Write([]byte(`{"data":[
				{"id":"pi_new","status":"requires_payment_method","amount":999},
				{"id":"pi_paid","status":"succeeded","amount":399,"receipt_email":"buyer@example.com"}
			]}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newStripeTestClient(t, server.URL)

	intent, err := client.LatestSucceededPayment(context.Background(), "buyer@example.com")
	if err != nil {
		t.Fatalf("LatestSucceededPayment: %v", err)
	}
	if intent == nil {
		t.Fatal("expected an intent")
	}
	if intent.ID != "pi_paid" {
		t.Errorf("intent ID = %q, want pi_paid", intent.ID)
	}
}

func TestLatestSucceededPayment_NoCustomer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client := newStripeTestClient(t, server.URL)

	intent, err := client.LatestSucceededPayment(context.Background(), "ghost@example.com")
	if err != nil {
		t.Fatalf("LatestSucceededPayment: %v", err)
	}
	if intent != nil {
		t.Errorf("expected nil intent, got %+v", intent)
	}
}

func TestStripeClient_ErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	}))
	defer server.Close()

	client := newStripeTestClient(t, server.URL)

	_, err := client.GetPaymentIntent(context.Background(), "pi_declined")
	if err == nil {
		t.Fatal("expected error")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamStripe {
		t.Errorf("code = %s", appErr.Code)
	}
	if appErr.Details["stripe_code"] != "card_declined" {
		t.Errorf("stripe_code detail = %v", appErr.Details["stripe_code"])
	}
}

func TestStripeVerifier_RejectsBadSignature(t *testing.T) {
	verifier := &StripeVerifier{}
	err := verifier.Verify([]byte(`{"id":"evt_1"}`), "t=123,v1=bogus", "whsec_test")
	if err == nil {
		t.Fatal("expected signature verification to fail")
	}
}
