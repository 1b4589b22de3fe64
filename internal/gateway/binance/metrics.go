package binance

import (
	"context"
	"fmt"
	"strings"

	"arena/internal/pkg/symbol"
)

func exchangeSymbol(sym string) (string, error) {
	if ex := symbol.Binance.ToExchange(sym); ex != "" {
		return ex, nil
	}
	return "", fmt.Errorf("invalid symbol: %q", sym)
}

// GetFundingRate 返回最近一期资金费率，0.0001 即 0.01%。
func (s *Source) GetFundingRate(ctx context.Context, sym string) (float64, error) {
	ex, err := exchangeSymbol(sym)
	if err != nil {
		return 0, err
	}
	res, err := s.client.NewPremiumIndexService().Symbol(ex).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance premium index %s: %w", ex, err)
	}
	for _, entry := range res {
		if entry != nil && strings.EqualFold(entry.Symbol, ex) {
			return parseFloat(entry.LastFundingRate), nil
		}
	}
	return 0, fmt.Errorf("binance premium index %s: not found", ex)
}

// GetOpenInterest 返回当前持仓量，单位为币。
func (s *Source) GetOpenInterest(ctx context.Context, sym string) (float64, error) {
	ex, err := exchangeSymbol(sym)
	if err != nil {
		return 0, err
	}
	res, err := s.client.NewGetOpenInterestService().Symbol(ex).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance open interest %s: %w", ex, err)
	}
	if res == nil {
		return 0, fmt.Errorf("binance open interest %s: empty response", ex)
	}
	return parseFloat(res.OpenInterest), nil
}
