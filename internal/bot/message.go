package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"omnix-trader/internal/exchange"
	"omnix-trader/internal/ledger"
	"omnix-trader/internal/market"
	"omnix-trader/internal/policy"
	"omnix-trader/internal/trader"
)

func formatBalance(snapshot exchange.Snapshot) string {
	if len(snapshot) == 0 {
		return "Tu balance es de $0.00"
	}

	assets := make([]string, 0, len(snapshot))
	for asset := range snapshot {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	var sb strings.Builder
	sb.WriteString("Tu balance:\n")
	for _, asset := range assets {
		sb.WriteString(fmt.Sprintf("• %s: %.8g\n", asset, snapshot[asset]))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatQuotes(quotes []market.Quote) string {
	if len(quotes) == 0 {
		return "No hay precios disponibles ahora mismo."
	}

	var sb strings.Builder
	sb.WriteString("Precios actualizados:\n")
	for _, quote := range quotes {
		sb.WriteString(fmt.Sprintf("• %s: $%.2f (%+.2f%% 24h", quote.Pair, quote.Last, quote.Change24Pct))
		if quote.SMA > 0 {
			sb.WriteString(fmt.Sprintf(", SMA %.2f", quote.SMA))
		}
		sb.WriteString(")\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatGateDenied(report trader.CycleReport) string {
	gate := report.Gate
	if gate.MaxTrades > 0 && gate.TradesSoFar >= gate.MaxTrades {
		return fmt.Sprintf("Límite diario alcanzado: %d/%d operaciones. Mañana seguimos.", gate.TradesSoFar, gate.MaxTrades)
	}
	if gate.MaxLoss > 0 && gate.LossSoFar >= gate.MaxLoss {
		return fmt.Sprintf("Límite de pérdida diaria alcanzado: $%.2f/$%.2f.", gate.LossSoFar, gate.MaxLoss)
	}
	return "Ahora mismo no hay nada que operar."
}

func formatTradingStatus(report trader.CycleReport, gate ledger.Gate, interval time.Duration) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Trading automático activo (ciclo cada %s).\n", interval))
	sb.WriteString(fmt.Sprintf("Hoy: %d/%d operaciones, pérdida $%.2f/$%.2f.\n", gate.TradesSoFar, gate.MaxTrades, gate.LossSoFar, gate.MaxLoss))

	switch {
	case report.Skipped != "":
		sb.WriteString("Último ciclo: sin operación.")
	case report.Result != nil && report.Result.Accepted:
		sb.WriteString(fmt.Sprintf("Último ciclo: %s de %.8g %s (orden %s).",
			actionLabel(report.Intent.Action), report.Intent.Volume, report.Intent.Asset, report.Result.OrderID))
	case report.Result != nil:
		sb.WriteString("Último ciclo: orden rechazada por el exchange.")
	default:
		sb.WriteString("Último ciclo: sin operación.")
	}

	return sb.String()
}

func actionLabel(action policy.Action) string {
	switch action {
	case policy.ActionBuy:
		return "compra"
	case policy.ActionSell:
		return "venta"
	default:
		return "sin acción"
	}
}
