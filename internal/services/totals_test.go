package services

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeTotal(t *testing.T) {
	cases := []struct {
		name                    string
		subtotal, fee, discount string
		want                    string
		anomaly                 bool
	}{
		{"scenario", "2500", "300", "500", "2300", false},
		{"no discount", "1000", "100", "0", "1100", false},
		{"discount equals subtotal", "80", "100", "80", "100", false},
		{"discount exceeds subtotal", "80", "100", "120", "100", true},
		{"free delivery", "999.99", "0", "0.99", "999", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, anomaly := ComputeTotal(
				decimal.RequireFromString(tc.subtotal),
				decimal.RequireFromString(tc.fee),
				decimal.RequireFromString(tc.discount),
			)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("expected total %s, got %s", tc.want, got)
			}
			if anomaly != tc.anomaly {
				t.Fatalf("expected anomaly=%v, got %v", tc.anomaly, anomaly)
			}
		})
	}
}

func TestComputeTotal_NeverNegative(t *testing.T) {
	for sub := int64(0); sub <= 500; sub += 50 {
		for disc := int64(0); disc <= 1000; disc += 75 {
			fee := decimal.NewFromInt(150)
			total, _ := ComputeTotal(decimal.NewFromInt(sub), fee, decimal.NewFromInt(disc))
			if total.LessThan(fee) {
				t.Fatalf("total %s below delivery fee for sub=%d disc=%d", total, sub, disc)
			}
			want := decimal.Max(decimal.Zero, decimal.NewFromInt(sub-disc)).Add(fee)
			if !total.Equal(want) {
				t.Fatalf("expected %s, got %s", want, total)
			}
		}
	}
}
