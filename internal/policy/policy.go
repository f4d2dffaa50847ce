package policy

import (
	"fmt"
	"sort"

	"omnix-trader/internal/exchange"
	"omnix-trader/internal/ledger"
)

// Action 表示一次决策的动作。
type Action string

const (
	ActionNone Action = "none"
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Intent 为一次决策的输出，随即被执行方消费后丢弃。
type Intent struct {
	Action Action
	Asset  string
	Pair   string
	Volume float64
	Reason string
}

// Params 为固定规则策略的参数。
type Params struct {
	// CashAsset 为法币等价资产代码（Kraken 记作 ZUSD）。
	CashAsset string
	// CashThreshold 为买入/卖出分支的现金分界线（美元）。
	CashThreshold float64
	// BuyPair/BuyAsset/BuyVolume 描述现金充足时的固定买入。
	BuyPair   string
	BuyAsset  string
	BuyVolume float64
	// SellFraction 为现金不足时抛售最大持仓的比例。
	SellFraction float64
}

// Decide 为纯函数：相同的 (balances, gate, params) 必然产生相同的意图。
// 规则：闸门关闭→不动；现金充足→固定量买入默认资产；
// 现金不足→卖出最大非现金持仓的固定比例；无持仓→不动。
// 并列时选取资产代码字典序最小者，保证确定性。
func Decide(balances exchange.Snapshot, gate ledger.Gate, params Params) Intent {
	if !gate.Allowed {
		return Intent{Action: ActionNone, Reason: "日度限额已关闭交易闸门"}
	}

	cash := balances.Cash(params.CashAsset)
	if cash >= params.CashThreshold {
		intent := BuyIntent(params)
		intent.Reason = fmt.Sprintf("现金 %.2f 高于阈值 %.2f，执行固定买入", cash, params.CashThreshold)
		return intent
	}

	intent, ok := SellIntent(balances, params)
	if !ok {
		return Intent{Action: ActionNone, Reason: "现金不足且无可卖持仓"}
	}
	intent.Reason = fmt.Sprintf("现金 %.2f 低于阈值 %.2f，卖出最大持仓 %s 的 %.0f%%", cash, params.CashThreshold, intent.Asset, params.SellFraction*100)
	return intent
}

// BuyIntent 返回固定规模的默认资产买入意图。
func BuyIntent(params Params) Intent {
	return Intent{
		Action: ActionBuy,
		Asset:  params.BuyAsset,
		Pair:   params.BuyPair,
		Volume: params.BuyVolume,
	}
}

// SellIntent 返回卖出最大非现金持仓固定比例的意图，无可卖持仓时 ok=false。
func SellIntent(balances exchange.Snapshot, params Params) (Intent, bool) {
	asset, quantity := largestHolding(balances, params.CashAsset)
	if asset == "" {
		return Intent{Action: ActionNone}, false
	}
	return Intent{
		Action: ActionSell,
		Asset:  asset,
		Pair:   asset + params.CashAsset,
		Volume: quantity * params.SellFraction,
	}, true
}

// largestHolding 返回数量最大的非现金持仓。
// map 迭代无序，先按资产代码排序再比较，使并列结果可复现。
func largestHolding(balances exchange.Snapshot, cashAsset string) (string, float64) {
	assets := make([]string, 0, len(balances))
	for asset := range balances {
		if asset == cashAsset {
			continue
		}
		if balances[asset] > 0 {
			assets = append(assets, asset)
		}
	}
	if len(assets) == 0 {
		return "", 0
	}

	sort.Strings(assets)

	best := assets[0]
	for _, asset := range assets[1:] {
		if balances[asset] > balances[best] {
			best = asset
		}
	}

	return best, balances[best]
}
