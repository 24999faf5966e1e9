// Package fiscal submits committed sales to the tax authority's signing
// device over mutual TLS. Signing is best effort: a committed sale is never
// rolled back because signing failed.
package fiscal

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/pkcs12"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/secrets"
)

// ConfigError means the shop's fiscal settings are incomplete or unusable.
// Retrying without an operator fixing the settings will not help.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "fiscal config: " + e.Reason
}

// TransportError wraps failures talking to the signing device. These are
// retryable via the manual re-sign endpoint.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "fiscal transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Outcome carries the enrichment fields a successful signing returns.
type Outcome struct {
	InvoiceNumber string
	QRCode        string
	Journal       string
}

type Signer struct {
	baseURL   string
	timeout   time.Duration
	decryptor *secrets.Decryptor
}

func NewSigner(baseURL string, timeout time.Duration, decryptor *secrets.Decryptor) *Signer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Signer{baseURL: baseURL, timeout: timeout, decryptor: decryptor}
}

type invoicePayment struct {
	Amount      float64 `json:"amount"`
	PaymentType string  `json:"paymentType"`
}

type invoiceItem struct {
	Name        string   `json:"name"`
	Quantity    int      `json:"quantity"`
	UnitPrice   float64  `json:"unitPrice"`
	Labels      []string `json:"labels"`
	TotalAmount float64  `json:"totalAmount"`
}

type invoiceRequest struct {
	DateAndTimeOfIssue string           `json:"dateAndTimeOfIssue"`
	Cashier            string           `json:"cashier"`
	InvoiceType        string           `json:"invoiceType"`
	TransactionType    string           `json:"transactionType"`
	Payment            []invoicePayment `json:"payment"`
	InvoiceNumber      string           `json:"invoiceNumber"`
	Items              []invoiceItem    `json:"items"`
}

type invoiceResponse struct {
	InvoiceNumber      string `json:"invoiceNumber"`
	VerificationQRCode string `json:"verificationQRCode"`
	Journal            string `json:"journal"`
	Message            string `json:"message"`
}

// Sign submits the sale to the signing device using the shop's stored fiscal
// credentials. The context bounds the whole exchange.
func (s *Signer) Sign(ctx context.Context, shop *domain.Shop, sale *domain.Sale, cashier string) (*Outcome, error) {
	if s.baseURL == "" {
		return nil, &ConfigError{Reason: "signing endpoint not configured"}
	}
	cfg := shop.Fiscal
	if cfg.DeviceUID == "" {
		return nil, &ConfigError{Reason: "missing device uid"}
	}
	if cfg.EncryptedPassword.Empty() {
		return nil, &ConfigError{Reason: "missing device password"}
	}
	if len(cfg.CertBundle) == 0 {
		return nil, &ConfigError{Reason: "missing client certificate bundle"}
	}

	password, err := s.decryptor.Decrypt(cfg.EncryptedPassword)
	if err != nil {
		return nil, &ConfigError{Reason: "cannot decrypt device password"}
	}
	// The PAC is an optional access code; devices without one authenticate
	// with the certificate and password alone.
	pac := ""
	if !cfg.EncryptedPAC.Empty() {
		pac, err = s.decryptor.Decrypt(cfg.EncryptedPAC)
		if err != nil {
			return nil, &ConfigError{Reason: "cannot decrypt device PAC"}
		}
	}

	cert, err := clientCertificate(cfg.CertBundle, password)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("cannot load client certificate: %v", err)}
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.SandboxMode {
		// Sandbox devices present self-signed certificates.
		tlsConfig.InsecureSkipVerify = true
	}

	client := resty.New().
		SetBaseURL(s.baseURL).
		SetTimeout(s.timeout).
		SetTLSClientConfig(tlsConfig)

	payload := buildInvoiceRequest(shop, sale, cashier)

	var result invoiceResponse
	request := client.R().
		SetContext(ctx).
		SetHeader("RequestId", uuid.NewString())
	if pac != "" {
		request.SetHeader("PAC", pac)
	}
	resp, err := request.
		SetBody(payload).
		SetResult(&result).
		Post("/api/v3/invoices")
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.IsError() {
		return nil, &TransportError{Err: fmt.Errorf("device returned %s: %s", resp.Status(), result.Message)}
	}
	if result.InvoiceNumber == "" {
		return nil, &TransportError{Err: fmt.Errorf("device response missing invoice number")}
	}

	return &Outcome{
		InvoiceNumber: result.InvoiceNumber,
		QRCode:        result.VerificationQRCode,
		Journal:       result.Journal,
	}, nil
}

func buildInvoiceRequest(shop *domain.Shop, sale *domain.Sale, cashier string) invoiceRequest {
	invoiceType := shop.Fiscal.InvoiceType
	if invoiceType == "" {
		invoiceType = domain.InvoiceTypeNormal
	}

	items := make([]invoiceItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		items = append(items, invoiceItem{
			Name:        item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   centsToUnits(item.UnitPriceCents),
			Labels:      []string{"N"},
			TotalAmount: centsToUnits(item.TotalCents()),
		})
	}

	return invoiceRequest{
		DateAndTimeOfIssue: sale.CreatedAt.UTC().Format(time.RFC3339),
		Cashier:            cashier,
		InvoiceType:        invoiceType,
		TransactionType:    "Sale",
		// The payment line reports what was tendered, which can exceed the
		// invoice total on overpaid sales.
		Payment: []invoicePayment{{
			Amount:      centsToUnits(sale.AmountPaidCents),
			PaymentType: mapPaymentType(sale.PaymentType),
		}},
		InvoiceNumber: sale.ReceiptNo,
		Items:         items,
	}
}

// centsToUnits converts exact int cents into the decimal amount the device
// expects. Conversion happens only at this boundary.
func centsToUnits(cents int64) float64 {
	return float64(cents) / 100
}

func mapPaymentType(paymentType string) string {
	switch paymentType {
	case "cash":
		return "Cash"
	case "card":
		return "Card"
	case "bank":
		return "WireTransfer"
	case "mobile", "wallet":
		return "MobileMoney"
	case "credit":
		return "Account"
	default:
		return "Other"
	}
}

// clientCertificate unpacks a PKCS#12 bundle into a TLS client certificate.
func clientCertificate(bundle []byte, password string) (tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(bundle, password)
	if err != nil {
		return tls.Certificate{}, err
	}
	var pemData []byte
	for _, block := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(block)...)
	}
	return tls.X509KeyPair(pemData, pemData)
}
