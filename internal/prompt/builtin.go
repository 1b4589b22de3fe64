package prompt

// OutputFormat 约束模型输出的 JSON 结构。
const OutputFormat = `Respond with exactly one JSON object and nothing else (no markdown, no prose):
{
  "decisions": [
    {
      "operation": "buy" | "sell" | "hold" | "close",
      "symbol": "BTC",
      "target_portion_of_balance": 0.2,
      "leverage": 3,
      "max_price": 97500.0,
      "min_price": null,
      "time_in_force": "Ioc" | "Gtc" | "Alo",
      "take_profit_price": 101000.0,
      "stop_loss_price": 95500.0,
      "reason": "short rationale",
      "trading_strategy": "setup, invalidation and exit plan"
    }
  ]
}
Return one entry per monitored symbol. max_price is required for buy and for closing a short;
min_price is required for sell and for closing a long.`

const defaultTemplate = `You are a cryptocurrency perpetuals trading assistant.

=== TRADING ENVIRONMENT ===
{trading_environment}

=== ACCOUNT STATUS ===
Available Cash: ${available_cash}
Total Account Value: ${total_account_value}

=== MARKET REGIME ===
{regime_summary}

=== MARKET PRICES ===
{market_prices}

=== NEWS ===
{news_section}

=== TRADING RULES ===
- operation: "buy" (long), "sell" (short), "hold", or "close"
- target_portion_of_balance: 0.0-1.0
- leverage: 1 to {max_leverage}
- max_price: required for "buy" and closing SHORT
- min_price: required for "sell" and closing LONG
- Keep total margin usage below 70%

=== OUTPUT FORMAT ===
{output_format}
`

const proTemplate = `=== SESSION ===
Runtime: {runtime_minutes} minutes
Current UTC time: {current_time_utc}

=== TRADING ENVIRONMENT ===
{trading_environment}
{real_trading_warning}

=== ACCOUNT STATUS ===
Total Return: {total_return_percent}%
Available Cash: ${available_cash}
Account Value: ${total_account_value}
{margin_info}

=== HOLDINGS ===
{holdings_detail}

=== MARKET REGIME ===
{regime_summary}

=== MARKET PRICES ===
{market_prices}

=== PRICE HISTORY ===
{sampling_data}

=== NEWS ===
{news_section}

=== TRADING RULES ===
{operational_constraints}
{leverage_constraints}

=== OUTPUT FORMAT ===
{output_format}
`

const hyperliquidTemplate = `=== SESSION ===
Runtime: {runtime_minutes} minutes
Current UTC time: {current_time_utc}

=== TRADING ENVIRONMENT ===
Platform: perpetual contracts
Environment: {environment}
{real_trading_warning}

=== ACCOUNT STATE ===
Total Equity: ${total_equity}
Available Balance: ${available_balance}
Used Margin: ${used_margin}
Margin Usage: {margin_usage_percent}%
Maintenance Margin: ${maintenance_margin}
Leverage: max {max_leverage}x, default {default_leverage}x

=== OPEN POSITIONS ===
{positions_detail}

=== RECENT TRADES ===
{recent_trades_summary}
Avoid reversing a position shortly after trading the same symbol.

=== SYMBOLS ===
Monitoring {selected_symbols_count} contracts:
{selected_symbols_detail}

=== MARKET REGIME ===
{regime_summary}

=== MARKET PRICES ===
{market_prices}

=== NEWS ===
{news_section}

=== PRICE LIMITS ===
Orders priced more than 1% away from the oracle price are rejected.
{operational_constraints}

=== EXECUTION ORDER ===
1. Close positions to free margin
2. Open SELL/SHORT entries
3. Open BUY/LONG entries

=== DECISION REQUIREMENTS ===
{leverage_constraints}
- Symbols: {selected_symbols_csv}

=== OUTPUT FORMAT ===
{output_format}
`

func builtinTemplates() map[string]Template {
	return map[string]Template{
		"default": {Key: "default", Name: "Default", Description: "Minimal account and price context", Text: defaultTemplate},
		"pro":     {Key: "pro", Name: "Pro", Description: "Holdings, price history and regime constraints", Text: proTemplate},
		"hyperliquid": {Key: "hyperliquid", Name: "Perpetuals", Description: "Full perpetual-contract context with price limits",
			Text: hyperliquidTemplate},
	}
}
