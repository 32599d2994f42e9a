package main

import (
	"testing"

	"shopstock/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.Config{
		"short secret":     {AuthSecret: "short", AdminPassword: "admin-pass-123"},
		"short admin":      {AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "abc"},
		"short staff":      {AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "admin-pass-123", StaffPassword: "abc"},
		"shared passwords": {AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "same-pass-123", StaffPassword: "same-pass-123"},
	}
	for name, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("%s: expected weak security config to be rejected", name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AdminPassword: "admin-pass-123",
		StaffPassword: "staff-pass-123",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
