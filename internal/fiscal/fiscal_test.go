package fiscal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/secrets"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

func testSigner(t *testing.T) *Signer {
	t.Helper()
	d, err := secrets.NewDecryptor(testKeyHex)
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}
	return NewSigner("https://fiscal.example.test", 5*time.Second, d)
}

func TestSignRejectsIncompleteConfig(t *testing.T) {
	signer := testSigner(t)
	sale := &domain.Sale{ReceiptNo: "REC-1", TotalAmountCents: 1000, PaymentType: "cash"}

	cases := []struct {
		name string
		shop domain.Shop
	}{
		{name: "missing device uid", shop: domain.Shop{}},
		{name: "missing credentials", shop: domain.Shop{Fiscal: domain.FiscalSettings{DeviceUID: "dev-1"}}},
		{name: "missing certificate", shop: domain.Shop{Fiscal: domain.FiscalSettings{
			DeviceUID:         "dev-1",
			EncryptedPassword: &domain.EncryptedSecret{IV: "aa", Content: "bb", AuthTag: "cc"},
			EncryptedPAC:      &domain.EncryptedSecret{IV: "aa", Content: "bb", AuthTag: "cc"},
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shop := tc.shop
			_, err := signer.Sign(context.Background(), &shop, sale, "admin")
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestSignRejectsUndecryptableCredentials(t *testing.T) {
	signer := testSigner(t)
	shop := &domain.Shop{Fiscal: domain.FiscalSettings{
		DeviceUID:         "dev-1",
		EncryptedPassword: &domain.EncryptedSecret{IV: "00", Content: "00", AuthTag: "00"},
		EncryptedPAC:      &domain.EncryptedSecret{IV: "00", Content: "00", AuthTag: "00"},
		CertBundle:        []byte{0x01},
	}}
	sale := &domain.Sale{ReceiptNo: "REC-1", TotalAmountCents: 1000, PaymentType: "cash"}

	_, err := signer.Sign(context.Background(), shop, sale, "admin")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestSignWithoutPACPassesCredentialCheck(t *testing.T) {
	d, err := secrets.NewDecryptor(testKeyHex)
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}
	password, err := d.Encrypt("device-password")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	signer := NewSigner("https://fiscal.example.test", 5*time.Second, d)

	// No PAC configured; the certificate bundle is garbage so signing
	// fails at certificate loading, past the credential checks.
	shop := &domain.Shop{Fiscal: domain.FiscalSettings{
		DeviceUID:         "dev-1",
		EncryptedPassword: password,
		CertBundle:        []byte{0x01, 0x02},
	}}
	sale := &domain.Sale{ReceiptNo: "REC-1", TotalAmountCents: 1000, AmountPaidCents: 1000, PaymentType: "cash"}

	_, err = signer.Sign(context.Background(), shop, sale, "admin")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if strings.Contains(cfgErr.Reason, "PAC") || strings.Contains(cfgErr.Reason, "password") {
		t.Fatalf("missing PAC should not fail credential checks, got %q", cfgErr.Reason)
	}
}

func TestBuildInvoiceRequest(t *testing.T) {
	issuedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	shop := &domain.Shop{Fiscal: domain.FiscalSettings{InvoiceType: domain.InvoiceTypeTraining}}
	sale := &domain.Sale{
		ReceiptNo:        "REC-1757000000000-abcd",
		TotalAmountCents: 12450,
		AmountPaidCents:  12450,
		PaymentType:      "card",
		CreatedAt:        issuedAt,
		Items: []domain.SaleItem{
			{ProductName: "Rice 5kg", Quantity: 1, UnitPriceCents: 8900},
			{ProductName: "Soap Bar", Quantity: 2, UnitPriceCents: 1775},
		},
	}

	req := buildInvoiceRequest(shop, sale, "attendant")

	if req.DateAndTimeOfIssue != "2026-03-14T09:30:00Z" {
		t.Fatalf("unexpected issue time %q", req.DateAndTimeOfIssue)
	}
	if req.InvoiceType != domain.InvoiceTypeTraining {
		t.Fatalf("unexpected invoice type %q", req.InvoiceType)
	}
	if req.TransactionType != "Sale" {
		t.Fatalf("unexpected transaction type %q", req.TransactionType)
	}
	if req.InvoiceNumber != sale.ReceiptNo {
		t.Fatalf("unexpected invoice number %q", req.InvoiceNumber)
	}
	if len(req.Payment) != 1 || req.Payment[0].PaymentType != "Card" || req.Payment[0].Amount != 124.50 {
		t.Fatalf("unexpected payment %+v", req.Payment)
	}
	if len(req.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(req.Items))
	}
	if req.Items[1].TotalAmount != 35.50 {
		t.Fatalf("unexpected item total %v", req.Items[1].TotalAmount)
	}
	if len(req.Items[0].Labels) != 1 || req.Items[0].Labels[0] != "N" {
		t.Fatalf("unexpected labels %v", req.Items[0].Labels)
	}
}

func TestBuildInvoiceRequestDefaultsInvoiceType(t *testing.T) {
	shop := &domain.Shop{}
	sale := &domain.Sale{PaymentType: "cash", CreatedAt: time.Now().UTC()}

	req := buildInvoiceRequest(shop, sale, "admin")
	if req.InvoiceType != domain.InvoiceTypeNormal {
		t.Fatalf("expected default invoice type, got %q", req.InvoiceType)
	}
}

func TestMapPaymentType(t *testing.T) {
	cases := map[string]string{
		"cash":    "Cash",
		"card":    "Card",
		"bank":    "WireTransfer",
		"mobile":  "MobileMoney",
		"wallet":  "MobileMoney",
		"credit":  "Account",
		"split":   "Other",
		"unknown": "Other",
	}
	for in, want := range cases {
		if got := mapPaymentType(in); got != want {
			t.Fatalf("mapPaymentType(%q) = %q, want %q", in, got, want)
		}
	}
}
