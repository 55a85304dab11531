// Package qris talks to the QRIS payment gateway used by checkout.
package qris

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leotyps/jkt48connect/pkg/checkout"
)

const (
	createPaymentPath = "/api/orkut/createpayment"
	checkStatusPath   = "/api/orkut/cekstatus"
	requestTimeout    = 15 * time.Second

	operationCreate = "qris.create"
	operationStatus = "qris.status"
)

var (
	ErrInvalidConfig   = errors.New("invalid qris config")
	ErrGatewayStatus   = errors.New("qris gateway returned an error status")
	ErrGatewayResponse = errors.New("qris gateway response could not be decoded")
)

// Config holds merchant credentials.
type Config struct {
	BaseURL  string
	APIKey   string
	QRISCode string
	Merchant string
	KeyOrkut string
}

// Validate trims fields and rejects missing credentials.
func (config Config) Validate() (Config, error) {
	config.BaseURL = strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	config.APIKey = strings.TrimSpace(config.APIKey)
	config.QRISCode = strings.TrimSpace(config.QRISCode)
	config.Merchant = strings.TrimSpace(config.Merchant)
	config.KeyOrkut = strings.TrimSpace(config.KeyOrkut)
	if config.BaseURL == "" {
		return Config{}, fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}
	if parsed, err := url.Parse(config.BaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Config{}, fmt.Errorf("%w: base url %q", ErrInvalidConfig, config.BaseURL)
	}
	if config.APIKey == "" {
		return Config{}, fmt.Errorf("%w: api key is required", ErrInvalidConfig)
	}
	if config.QRISCode == "" {
		return Config{}, fmt.Errorf("%w: qris code is required", ErrInvalidConfig)
	}
	if config.Merchant == "" || config.KeyOrkut == "" {
		return Config{}, fmt.Errorf("%w: merchant and keyorkut are required", ErrInvalidConfig)
	}
	return config, nil
}

// Client implements checkout.Gateway.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient validates config and constructs a Client. A nil httpClient gets a default timeout.
func NewClient(config Config, httpClient *http.Client) (*Client, error) {
	validated, err := config.Validate()
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{config: validated, httpClient: httpClient}, nil
}

type createResponse struct {
	Status     json.RawMessage `json:"status"`
	Message    string          `json:"message"`
	QRImageURL string          `json:"qrImageUrl"`
	Result     struct {
		QRImageURL string `json:"qrImageUrl"`
	} `json:"result"`
}

// CreatePayment requests a dynamic QRIS for total and returns its image URL.
func (client *Client) CreatePayment(ctx context.Context, total checkout.Amount) (string, error) {
	query := url.Values{
		"amount":  {strconv.FormatInt(total.Int64(), 10)},
		"qris":    {client.config.QRISCode},
		"api_key": {client.config.APIKey},
	}
	var decoded createResponse
	if err := client.get(ctx, createPaymentPath, query, &decoded); err != nil {
		return "", checkout.WrapError(operationCreate, "payment", "request", err)
	}
	if !statusOK(decoded.Status) {
		return "", checkout.WrapError(operationCreate, "payment", "status", fmt.Errorf("%w: %s", ErrGatewayStatus, decoded.Message))
	}
	qrImageURL := strings.TrimSpace(decoded.QRImageURL)
	if qrImageURL == "" {
		qrImageURL = strings.TrimSpace(decoded.Result.QRImageURL)
	}
	return qrImageURL, nil
}

type mutation struct {
	Date       string          `json:"date"`
	Amount     json.RawMessage `json:"amount"`
	Type       string          `json:"type"`
	BrandName  string          `json:"brand_name"`
	IssuerRef  string          `json:"issuer_reff"`
	BuyerRef   string          `json:"buyer_reff"`
	Reference  string          `json:"reference"`
	QRISString string          `json:"qris"`
}

type statusResponse struct {
	Status  json.RawMessage `json:"status"`
	Message string          `json:"message"`
	Data    []mutation      `json:"data"`
}

// CheckStatus reports whether a payment of exactly total has settled.
func (client *Client) CheckStatus(ctx context.Context, total checkout.Amount) (checkout.PaymentStatus, error) {
	query := url.Values{
		"merchant": {client.config.Merchant},
		"keyorkut": {client.config.KeyOrkut},
		"amount":   {strconv.FormatInt(total.Int64(), 10)},
		"api_key":  {client.config.APIKey},
	}
	var decoded statusResponse
	if err := client.get(ctx, checkStatusPath, query, &decoded); err != nil {
		return checkout.PaymentStatus{}, checkout.WrapError(operationStatus, "payment", "request", err)
	}
	if !statusOK(decoded.Status) {
		return checkout.PaymentStatus{}, nil
	}
	for _, entry := range decoded.Data {
		amount, ok := parseAmount(entry.Amount)
		if ok && amount != total.Int64() {
			continue
		}
		return checkout.PaymentStatus{Paid: true, Reference: entry.reference()}, nil
	}
	return checkout.PaymentStatus{}, nil
}

func (entry mutation) reference() string {
	for _, candidate := range []string{entry.Reference, entry.IssuerRef, entry.BuyerRef} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return strings.TrimSpace(entry.Date)
}

func (client *Client) get(ctx context.Context, path string, query url.Values, target any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.config.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	response, err := client.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrGatewayStatus, response.StatusCode)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayResponse, err)
	}
	return nil
}

func statusOK(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		return flag
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "success", "ok", "true", "paid":
			return true
		}
		return false
	}
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		return code == http.StatusOK
	}
	return false
}

// parseAmount reads an amount given as a number or a formatted rupiah
// string such as "5.123" or "5.123,00".
func parseAmount(raw json.RawMessage) (int64, bool) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return 0, false
	}
	if value, err := strconv.ParseInt(text, 10, 64); err == nil {
		return value, true
	}
	if head, fraction, found := strings.Cut(text, ","); found && len(fraction) <= 2 {
		text = head
	} else if head, fraction, found := strings.Cut(text, "."); found && strings.Count(text, ".") == 1 && len(fraction) != 3 {
		text = head
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if digits == "" {
		return 0, false
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
