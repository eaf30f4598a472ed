package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const SignatureHeader = "X-Ledger-Signature"

// WebhookNotifier posts each notification as a JSON envelope to a single URL.
// When Secret is set the body is signed with HMAC-SHA256.
type WebhookNotifier struct {
	URL    string
	Secret string
	Client *http.Client
}

type envelope struct {
	Kind    Kind            `json:"kind"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (w WebhookNotifier) post(ctx context.Context, kind Kind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	body, err := json.Marshal(envelope{Kind: kind, SentAt: time.Now().UTC(), Payload: raw})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "open-ledger-webhook/1.0")
	if w.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.Secret, body))
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s webhook: %w", kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (w WebhookNotifier) SendOTP(ctx context.Context, m OTPMessage) error {
	return w.post(ctx, KindOTP, m)
}

func (w WebhookNotifier) SendTransferAlert(ctx context.Context, m TransferAlert) error {
	return w.post(ctx, KindTransferAlert, m)
}

func (w WebhookNotifier) SendDepositAlert(ctx context.Context, m DepositAlert) error {
	return w.post(ctx, KindDepositAlert, m)
}

func (w WebhookNotifier) SendWithdrawalAlert(ctx context.Context, m WithdrawalAlert) error {
	return w.post(ctx, KindWithdrawalAlert, m)
}

func (w WebhookNotifier) SendTopUpAlert(ctx context.Context, m TopUpAlert) error {
	return w.post(ctx, KindTopUpAlert, m)
}
