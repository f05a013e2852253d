package mapper

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/externalmodel"
	"tradeengine/src/model"
)

// ErrSymbolNotListed is returned when exchangeInfo does not carry the symbol.
var ErrSymbolNotListed = errors.New("symbol not listed on exchange")

// MapBinanceSymbolRules extracts lot step and minimum notional for symbol.
// The minimum notional comes from MIN_NOTIONAL, or from NOTIONAL on newer
// listings. Missing filters leave the value at zero, which disables the check.
func MapBinanceSymbolRules(info *externalmodel.BinanceExchangeInfo, symbol string) (model.SymbolRules, error) {
	if info == nil {
		return model.SymbolRules{}, fmt.Errorf("%w: %s", ErrSymbolNotListed, symbol)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}

		rules := model.SymbolRules{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}

		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				step, err := parseDecimal("stepSize", f.StepSize)
				if err != nil {
					return model.SymbolRules{}, err
				}
				rules.StepSize = step
			case "MIN_NOTIONAL", "NOTIONAL":
				raw := f.MinNotional
				if raw == "" {
					raw = f.Notional
				}
				minNotional, err := parseDecimal("minNotional", raw)
				if err != nil {
					return model.SymbolRules{}, err
				}
				if minNotional.GreaterThan(rules.MinNotional) {
					rules.MinNotional = minNotional
				}
			}
		}

		logger.WithFields(map[string]interface{}{
			"mapper":       "MapBinanceSymbolRules",
			"symbol":       symbol,
			"step_size":    rules.StepSize.String(),
			"min_notional": rules.MinNotional.String(),
		}).Debug("Mapped symbol rules")

		return rules, nil
	}

	return model.SymbolRules{}, fmt.Errorf("%w: %s", ErrSymbolNotListed, symbol)
}

// MapBinanceOrder converts an order payload into a FillResult. When the payload
// has no fill breakdown but reports executed quantity, a single fill at the
// average execution price is derived from cummulativeQuoteQty.
func MapBinanceOrder(resp *externalmodel.BinanceOrderResponse) (*model.FillResult, error) {
	if resp == nil {
		return nil, errors.New("nil binance order response")
	}

	executedQty, err := parseDecimal("executedQty", resp.ExecutedQty)
	if err != nil {
		return nil, err
	}

	result := &model.FillResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Status:        resp.Status,
		ExecutedQty:   executedQty,
	}

	for i, f := range resp.Fills {
		qty, err := parseDecimal(fmt.Sprintf("fills[%d].qty", i), f.Qty)
		if err != nil {
			return nil, err
		}
		price, err := parseDecimal(fmt.Sprintf("fills[%d].price", i), f.Price)
		if err != nil {
			return nil, err
		}
		commission, err := parseDecimal(fmt.Sprintf("fills[%d].commission", i), f.Commission)
		if err != nil {
			return nil, err
		}
		result.Fills = append(result.Fills, model.Fill{Qty: qty, Price: price, Commission: commission})
	}

	if len(result.Fills) == 0 && executedQty.IsPositive() {
		quote, err := parseDecimal("cummulativeQuoteQty", resp.CummulativeQuoteQty)
		if err != nil {
			return nil, err
		}
		price := decimal.Zero
		if quote.IsPositive() {
			price = quote.Div(executedQty)
		} else if p, err := parseDecimal("price", resp.Price); err == nil {
			price = p
		}
		if price.IsPositive() {
			result.Fills = append(result.Fills, model.Fill{Qty: executedQty, Price: price})
		}
	}

	logger.WithFields(map[string]interface{}{
		"mapper":            "MapBinanceOrder",
		"exchange_order_id": result.OrderID,
		"symbol":            result.Symbol,
		"status":            result.Status,
		"fills":             len(result.Fills),
	}).Debug("Mapped binance order")

	return result, nil
}

// parseDecimal treats an empty field as zero and rejects anything unparsable.
func parseDecimal(field, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, v, err)
	}
	return d, nil
}
