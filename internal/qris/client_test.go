package qris

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leotyps/jkt48connect/pkg/checkout"
)

func TestCreatePaymentReturnsQRImage(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if request.URL.Path != createPaymentPath || query.Get("amount") != "5123" || query.Get("qris") != "000201" || query.Get("api_key") != "gateway-key" {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(writer, `{"status":true,"qrImageUrl":"https://qris.example/5123.png"}`)
	})
	qrImageURL, err := client.CreatePayment(context.Background(), 5123)
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if qrImageURL != "https://qris.example/5123.png" {
		test.Fatalf("unexpected qr image %q", qrImageURL)
	}
}

func TestCreatePaymentNestedResultAndMissingImage(test *testing.T) {
	test.Parallel()
	bodies := []string{
		`{"status":"success","result":{"qrImageUrl":"https://qris.example/nested.png"}}`,
		`{"status":true}`,
	}
	index := 0
	client := newTestClient(test, func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(writer, bodies[index])
		index++
	})
	qrImageURL, err := client.CreatePayment(context.Background(), 5000)
	if err != nil || qrImageURL != "https://qris.example/nested.png" {
		test.Fatalf("unexpected nested result %q %v", qrImageURL, err)
	}
	qrImageURL, err = client.CreatePayment(context.Background(), 5000)
	if err != nil || qrImageURL != "" {
		test.Fatalf("expected empty image without error, got %q %v", qrImageURL, err)
	}
}

func TestCreatePaymentErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{name: "http error", status: http.StatusBadGateway, body: `{}`, target: ErrGatewayStatus},
		{name: "status false", status: http.StatusOK, body: `{"status":false,"message":"invalid qris"}`, target: ErrGatewayStatus},
		{name: "bad json", status: http.StatusOK, body: `<html>`, target: ErrGatewayResponse},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			client := newTestClient(test, func(writer http.ResponseWriter, _ *http.Request) {
				writer.WriteHeader(testCase.status)
				_, _ = io.WriteString(writer, testCase.body)
			})
			_, err := client.CreatePayment(context.Background(), 5000)
			if !errors.Is(err, testCase.target) {
				test.Fatalf("expected %v, got %v", testCase.target, err)
			}
			var operationError checkout.OperationError
			if !errors.As(err, &operationError) || operationError.Operation() != operationCreate {
				test.Fatalf("expected operation error, got %v", err)
			}
		})
	}
}

func TestCheckStatus(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		body      string
		paid      bool
		reference string
	}{
		{name: "no mutations", body: `{"status":"success","data":[]}`},
		{name: "status failed", body: `{"status":false,"data":[{"amount":"5123"}]}`},
		{name: "matching amount", body: `{"status":"success","data":[{"amount":"5.123","issuer_reff":"ISS-1"}]}`, paid: true, reference: "ISS-1"},
		{name: "numeric amount", body: `{"status":true,"data":[{"amount":5123,"buyer_reff":"BUY-1"}]}`, paid: true, reference: "BUY-1"},
		{name: "other amount only", body: `{"status":"success","data":[{"amount":"7.000","issuer_reff":"ISS-2"}]}`},
		{name: "amount absent", body: `{"status":"success","data":[{"date":"2026-10-19 10:00"}]}`, paid: true, reference: "2026-10-19 10:00"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
				query := request.URL.Query()
				if request.URL.Path != checkStatusPath || query.Get("merchant") != "OK123" || query.Get("keyorkut") != "orkut-key" || query.Get("amount") != "5123" {
					writer.WriteHeader(http.StatusBadRequest)
					return
				}
				_, _ = io.WriteString(writer, testCase.body)
			})
			status, err := client.CheckStatus(context.Background(), 5123)
			if err != nil {
				test.Fatalf("check status: %v", err)
			}
			if status.Paid != testCase.paid || status.Reference != testCase.reference {
				test.Fatalf("unexpected status %+v", status)
			}
		})
	}
}

func TestCheckStatusTransportError(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusServiceUnavailable)
	})
	if _, err := client.CheckStatus(context.Background(), 5000); !errors.Is(err, ErrGatewayStatus) {
		test.Fatalf("expected ErrGatewayStatus, got %v", err)
	}
}

func TestParseAmount(test *testing.T) {
	test.Parallel()
	testCases := map[string]int64{
		`5123`:        5123,
		`"5123"`:      5123,
		`"5.123"`:     5123,
		`"5.123,00"`:  5123,
		`"5123.00"`:   5123,
		`"Rp 12.500"`: 12500,
	}
	for raw, expected := range testCases {
		value, ok := parseAmount(json.RawMessage(raw))
		if !ok || value != expected {
			test.Fatalf("%s: expected %d, got %d (ok=%v)", raw, expected, value, ok)
		}
	}
	if _, ok := parseAmount(json.RawMessage(`null`)); ok {
		test.Fatalf("expected null to be rejected")
	}
}

func TestConfigValidate(test *testing.T) {
	test.Parallel()
	valid := Config{BaseURL: "https://gateway.example/", APIKey: "k", QRISCode: "q", Merchant: "m", KeyOrkut: "o"}
	validated, err := valid.Validate()
	if err != nil || validated.BaseURL != "https://gateway.example" {
		test.Fatalf("unexpected validation result %+v %v", validated, err)
	}
	for _, mutate := range []func(*Config){
		func(config *Config) { config.BaseURL = "" },
		func(config *Config) { config.BaseURL = "gateway" },
		func(config *Config) { config.APIKey = " " },
		func(config *Config) { config.QRISCode = "" },
		func(config *Config) { config.KeyOrkut = "" },
	} {
		candidate := valid
		mutate(&candidate)
		if _, err := candidate.Validate(); !errors.Is(err, ErrInvalidConfig) {
			test.Fatalf("expected ErrInvalidConfig for %+v, got %v", candidate, err)
		}
	}
}

func newTestClient(test *testing.T, handler http.HandlerFunc) *Client {
	test.Helper()
	server := httptest.NewServer(handler)
	test.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL:  server.URL,
		APIKey:   "gateway-key",
		QRISCode: "000201",
		Merchant: "OK123",
		KeyOrkut: "orkut-key",
	}, server.Client())
	if err != nil {
		test.Fatalf("client init failed: %v", err)
	}
	return client
}
