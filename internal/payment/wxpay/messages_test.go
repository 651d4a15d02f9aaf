package wxpay

import (
	"errors"
	"testing"
	"time"
)

func TestGatewayTimeRoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := FormatGatewayTime(at)
	if raw != "20240102110405" {
		t.Fatalf("unexpected gateway time: %s", raw)
	}
	parsed, err := ParseGatewayTime(raw)
	if err != nil {
		t.Fatalf("parse gateway time failed: %v", err)
	}
	if !parsed.Equal(at) {
		t.Fatalf("round trip mismatch: %v", parsed)
	}
}

func TestParseGatewayTimeRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"", "2024-01-02", "20241302030405"} {
		if _, err := ParseGatewayTime(raw); !errors.Is(err, ErrResponseInvalid) {
			t.Fatalf("expected invalid time error for %q, got %v", raw, err)
		}
	}
}

func TestDecodeNotifyPayloadRequiresFields(t *testing.T) {
	fields := map[string]string{
		"return_code":    "SUCCESS",
		"result_code":    "SUCCESS",
		"appid":          "wx1234567890",
		"mch_id":         "1900000109",
		"out_trade_no":   "WX1",
		"transaction_id": "4200001234",
		"total_fee":      "100",
		"time_end":       "20240102030405",
	}
	payload, err := DecodeNotifyPayload(fields)
	if err != nil {
		t.Fatalf("decode notify failed: %v", err)
	}
	if payload.TotalFee != 100 || payload.OutTradeNo != "WX1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	delete(fields, "total_fee")
	if _, err := DecodeNotifyPayload(fields); err == nil {
		t.Fatalf("expected error without total_fee")
	}
}
