package algolab

import (
	"context"

	"github.com/shopspring/decimal"
)

// TechnicalIndicators can be used to calculate technical indicators
// from candle data.
type TechnicalIndicators interface {
	// SMA calculates the simple moving average of closing prices.
	SMA(ctx context.Context, symbol string, params SMAParams) (*SMA, error)
	// ADTV calculates the average trading volume per candle.
	ADTV(ctx context.Context, symbol string, params ADTVParams) (*ADTV, error)
}

// SMAParams selects the candle resolution and the number of most
// recent candles averaged.
type SMAParams struct {
	Period CandlePeriod
	Window int
}

// SMA is a simple moving average of closing prices together with the
// number of candles it was computed from.
type SMA struct {
	Average decimal.Decimal
	Samples int
}

// ADTVParams selects the candle resolution and the number of most
// recent candles averaged.
type ADTVParams struct {
	Period CandlePeriod
	Window int
}

// ADTV is the average trading volume per candle.
type ADTV struct {
	AverageVolume decimal.Decimal
	Samples       int
}

type indicators struct {
	c *Client

	// mockable functions
	getCandles func(ctx context.Context, symbol string, period CandlePeriod) ([]Candle, error)
}

type IndicatorsOpts struct {
	Client *Client
}

func NewIndicators(opts IndicatorsOpts) TechnicalIndicators {
	i := &indicators{c: opts.Client}
	if opts.Client != nil {
		i.getCandles = opts.Client.GetCandleData
	}
	return i
}

func (i *indicators) window(ctx context.Context, symbol string, period CandlePeriod, window int) ([]Candle, error) {
	if window <= 0 {
		return nil, newError(KindFatal, "indicator window must be positive")
	}
	candles, err := i.getCandles(ctx, symbol, period)
	if err != nil {
		return nil, err
	}
	if len(candles) > window {
		candles = candles[len(candles)-window:]
	}
	return candles, nil
}

// SMA calculates the simple moving average of closing prices over the
// most recent params.Window candles.
func (i *indicators) SMA(ctx context.Context, symbol string, params SMAParams) (*SMA, error) {
	candles, err := i.window(ctx, symbol, params.Period, params.Window)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return &SMA{}, nil
	}
	sum := decimal.Zero
	for _, candle := range candles {
		sum = sum.Add(candle.Close)
	}
	return &SMA{
		Average: sum.Div(decimal.NewFromInt(int64(len(candles)))),
		Samples: len(candles),
	}, nil
}

// ADTV calculates the average volume over the most recent
// params.Window candles.
func (i *indicators) ADTV(ctx context.Context, symbol string, params ADTVParams) (*ADTV, error) {
	candles, err := i.window(ctx, symbol, params.Period, params.Window)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return &ADTV{}, nil
	}
	sum := decimal.Zero
	for _, candle := range candles {
		sum = sum.Add(candle.Volume)
	}
	return &ADTV{
		AverageVolume: sum.Div(decimal.NewFromInt(int64(len(candles)))),
		Samples:       len(candles),
	}, nil
}
