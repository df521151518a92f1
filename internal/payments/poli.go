package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/fees"
)

const poliName = "poli"

type PoliConfig struct {
	BaseURL            string
	MerchantCode       string
	AuthenticationCode string
	HomepageURL        string
	SuccessURL         string
	FailureURL         string
	CancellationURL    string
	NotificationURL    string
	Timeout            time.Duration
	HTTPClient         *http.Client
}

// Poli takes online bank payments through POLi's redirect flow. POLi's
// nudge carries only a token, so the result is always read back from POLi
// with the merchant credentials.
type Poli struct {
	cfg  PoliConfig
	http *http.Client
}

func NewPoli(cfg PoliConfig) *Poli {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://poliapi.apac.paywithpoli.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Poli{cfg: cfg, http: client}
}

func (p *Poli) Name() string                 { return poliName }
func (p *Poli) Method() domain.PaymentMethod { return domain.MethodBankRedirect }
func (p *Poli) SignatureHeader() string      { return "" }

type poliInitiateRequest struct {
	Amount              json.Number `json:"Amount"`
	CurrencyCode        string      `json:"CurrencyCode"`
	MerchantReference   string      `json:"MerchantReference"`
	MerchantData        string      `json:"MerchantData,omitempty"`
	MerchantHomepageURL string      `json:"MerchantHomepageURL"`
	SuccessURL          string      `json:"SuccessURL"`
	FailureURL          string      `json:"FailureURL"`
	CancellationURL     string      `json:"CancellationURL"`
	NotificationURL     string      `json:"NotificationURL"`
}

type poliInitiateResponse struct {
	Success          bool   `json:"Success"`
	NavigateURL      string `json:"NavigateURL"`
	TransactionRefNo string `json:"TransactionRefNo"`
	ErrorCode        string `json:"ErrorCode"`
	ErrorMessage     string `json:"ErrorMessage"`
}

func (p *Poli) CreateIntent(ctx context.Context, req IntentRequest) (ProviderIntent, error) {
	success := p.cfg.SuccessURL
	if req.ReturnURL != "" {
		success = req.ReturnURL
	}
	body := poliInitiateRequest{
		Amount:              json.Number(req.Amount.StringFixed(fees.MinorUnits(req.Currency))),
		CurrencyCode:        strings.ToUpper(req.Currency),
		MerchantReference:   req.Reference,
		MerchantData:        req.Metadata["project_id"],
		MerchantHomepageURL: p.cfg.HomepageURL,
		SuccessURL:          success,
		FailureURL:          p.cfg.FailureURL,
		CancellationURL:     p.cfg.CancellationURL,
		NotificationURL:     p.cfg.NotificationURL,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return ProviderIntent{}, fmt.Errorf("encode poli request: %w", err)
	}

	var out poliInitiateResponse
	if err := p.do(ctx, http.MethodPost, "/api/v2/Transaction/Initiate", bytes.NewReader(raw), &out); err != nil {
		return ProviderIntent{}, err
	}
	if !out.Success || out.TransactionRefNo == "" || out.NavigateURL == "" {
		return ProviderIntent{}, domain.ProviderError(poliName, false,
			fmt.Errorf("initiate rejected: %s %s", out.ErrorCode, out.ErrorMessage))
	}
	return ProviderIntent{ID: out.TransactionRefNo, RedirectURL: out.NavigateURL}, nil
}

// VerifyWebhookSignature only checks that a token is present; ParseWebhook
// establishes authenticity by fetching the transaction from POLi.
func (p *Poli) VerifyWebhookSignature(payload []byte, _ string) bool {
	return poliToken(payload) != ""
}

type poliTransaction struct {
	TransactionRefNo      string          `json:"TransactionRefNo"`
	TransactionStatusCode string          `json:"TransactionStatusCode"`
	AmountPaid            decimal.Decimal `json:"AmountPaid"`
	CurrencyCode          string          `json:"CurrencyCode"`
	ErrorCode             string          `json:"ErrorCode"`
	ErrorMessage          string          `json:"ErrorMessage"`
}

func (p *Poli) ParseWebhook(ctx context.Context, payload []byte) (WebhookResult, error) {
	token := poliToken(payload)
	if token == "" {
		return WebhookResult{}, domain.ErrInvalidInput.With("reason", "poli nudge without token")
	}

	var txn poliTransaction
	path := "/api/v2/Transaction/GetTransaction?token=" + url.QueryEscape(token)
	if err := p.do(ctx, http.MethodGet, path, nil, &txn); err != nil {
		return WebhookResult{}, err
	}
	if txn.TransactionRefNo == "" {
		return WebhookResult{}, domain.ProviderError(poliName, false, fmt.Errorf("unknown token: %s", txn.ErrorMessage))
	}

	res := WebhookResult{IntentID: txn.TransactionRefNo}
	switch txn.TransactionStatusCode {
	case "Completed":
		res.Outcome = OutcomeSucceeded
		res.Amount = txn.AmountPaid
		res.Currency = strings.ToUpper(txn.CurrencyCode)
	case "Failed", "Cancelled", "TimedOut", "ReceiptUnverified":
		res.Outcome = OutcomeFailed
		res.FailureReason = "bank payment " + strings.ToLower(txn.TransactionStatusCode)
		if txn.ErrorMessage != "" {
			res.FailureReason += ": " + txn.ErrorMessage
		}
	default:
		res.Outcome = OutcomeIgnored
	}
	return res, nil
}

// poliToken reads the token from a form-encoded nudge.
func poliToken(payload []byte) string {
	vals, err := url.ParseQuery(string(payload))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(vals.Get("Token"))
}

func (p *Poli) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build poli request: %w", err)
	}
	req.SetBasicAuth(p.cfg.MerchantCode, p.cfg.AuthenticationCode)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return domain.ProviderError(poliName, true, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ProviderError(poliName, true, err)
	}
	if resp.StatusCode >= 300 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return domain.ProviderError(poliName, retryable, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.ProviderError(poliName, true, fmt.Errorf("decode poli response: %w", err))
	}
	return nil
}
