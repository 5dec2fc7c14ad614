package sizing

import (
	"testing"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

func TestComputeMirrorSize(t *testing.T) {
	cases := []struct {
		name     string
		fill     domain.Fill
		settings domain.CopySettings
		want     float64
	}{
		{
			name:     "percent mode scales by copy factor",
			fill:     domain.Fill{Side: domain.SideBuy, Size: 10},
			settings: domain.CopySettings{ExecutionMode: domain.ExecutionModePercent, CopyFactor: 1.5},
			want:     15,
		},
		{
			name:     "percent mode avoids float drift",
			fill:     domain.Fill{Side: domain.SideBuy, Size: 0.1},
			settings: domain.CopySettings{ExecutionMode: domain.ExecutionModePercent, CopyFactor: 3},
			want:     0.3,
		},
		{
			name:     "fixed mode ignores fill size",
			fill:     domain.Fill{Side: domain.SideBuy, Size: 999},
			settings: domain.CopySettings{ExecutionMode: domain.ExecutionModeFixed, FixedSize: 5, CopyFactor: 2},
			want:     5,
		},
		{
			name:     "fixed mode sell without sell-all",
			fill:     domain.Fill{Side: domain.SideSell, Size: 7},
			settings: domain.CopySettings{ExecutionMode: domain.ExecutionModeFixed, FixedSize: 5},
			want:     5,
		},
		{
			name:     "sell all overrides copy factor",
			fill:     domain.Fill{Side: domain.SideSell, Size: 10},
			settings: domain.CopySettings{ExecutionMode: domain.ExecutionModePercent, CopyFactor: 4, SellAllOnSell: true},
			want:     domain.DefaultSellAllSize,
		},
		{
			name:     "sell all overrides fixed mode with configured size",
			fill:     domain.Fill{Side: domain.SideSell, Size: 10},
			settings: domain.CopySettings{ExecutionMode: domain.ExecutionModeFixed, FixedSize: 5, SellAllOnSell: true, SellAllSize: 250},
			want:     250,
		},
		{
			name:     "sell all does not touch buys",
			fill:     domain.Fill{Side: domain.SideBuy, Size: 10},
			settings: domain.CopySettings{ExecutionMode: domain.ExecutionModePercent, CopyFactor: 0.5, SellAllOnSell: true},
			want:     5,
		},
		{
			name:     "zero copy factor",
			fill:     domain.Fill{Side: domain.SideBuy, Size: 10},
			settings: domain.CopySettings{ExecutionMode: domain.ExecutionModePercent},
			want:     0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeMirrorSize(tc.fill, tc.settings); got != tc.want {
				t.Fatalf("ComputeMirrorSize = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBuildRequest(t *testing.T) {
	idx := 1
	f := domain.Fill{ID: "f1", MarketID: "m", OutcomeID: "o", OutcomeIndex: &idx, Side: domain.SideBuy, Price: 0.4, Size: 2}
	s := domain.CopySettings{ExecutionMode: domain.ExecutionModePercent, CopyFactor: 2, MaxSlippageBps: 75}

	req := BuildRequest(f, s)
	if req.FillID != "f1" || req.MarketID != "m" || req.OutcomeID != "o" || req.Price != 0.4 {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Size != 4 || req.SlippageBps != 75 || req.OutcomeIndex == nil || *req.OutcomeIndex != 1 {
		t.Fatalf("unexpected sizing fields %+v", req)
	}
}
