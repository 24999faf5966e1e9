package main

import (
	"testing"

	"shopledger/backend/internal/config"
)

const strongKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", CryptoSecretKey: strongKeyHex})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigRejectsBadCryptoKey(t *testing.T) {
	cases := []string{"", "not-hex", "abcd1234"}
	for _, key := range cases {
		err := validateSecurityConfig(config.Config{
			AuthSecret:      "0123456789abcdef0123456789abcdef",
			CryptoSecretKey: key,
		})
		if err == nil {
			t.Fatalf("expected crypto key %q to be rejected", key)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:      "0123456789abcdef0123456789abcdef",
		CryptoSecretKey: strongKeyHex,
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
