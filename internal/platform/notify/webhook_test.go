package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookNotifierSignsEnvelope(t *testing.T) {
	var gotKind Kind
	var gotSig, wantSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		wantSig = Sign("hook-secret", body)
		var env envelope
		_ = json.Unmarshal(body, &env)
		gotKind = env.Kind
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := WebhookNotifier{URL: srv.URL, Secret: "hook-secret", Client: srv.Client()}
	if err := n.SendWithdrawalAlert(context.Background(), WithdrawalAlert{Reference: "WTH12345678", Amount: "5.00"}); err != nil {
		t.Fatalf("send webhook: %v", err)
	}
	if gotKind != KindWithdrawalAlert {
		t.Fatalf("unexpected kind: %s", gotKind)
	}
	if gotSig == "" || gotSig != wantSig {
		t.Fatalf("signature mismatch: got=%s want=%s", gotSig, wantSig)
	}
}

func TestWebhookNotifierReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.SendOTP(context.Background(), OTPMessage{}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}
