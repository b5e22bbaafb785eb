package utils

import "testing"

func TestNormalizeColumnName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Daily Device Installs", "daily_device_installs"},
		{"\ufeffDate", "date"},
		{"  Package Name  ", "package_name"},
		{"country:value", "country:value"},
	}
	for _, tc := range tests {
		if got := NormalizeColumnName(tc.in); got != tc.want {
			t.Errorf("NormalizeColumnName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeColumnName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"amount_(buyer_currency)", "amount_buyer_currency"},
		{"service_fee_%", "service_fee_percent"},
		{"country_/_region", "country_region"},
		{"country:value", "country:value"},
		{"daily_device_installs", "daily_device_installs"},
		{"rolling_28d_converters", "rolling_28d_converters"},
	}
	for _, tc := range tests {
		if got := SanitizeColumnName(tc.in); got != tc.want {
			t.Errorf("SanitizeColumnName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
