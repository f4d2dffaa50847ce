package exchange

// Snapshot 为一次余额查询的结果，键为 Kraken 资产代码（如 ZUSD、XXBT）。
type Snapshot map[string]float64

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderSpec 描述一笔市价单。
type OrderSpec struct {
	Pair   string
	Side   OrderSide
	Volume float64
}

// OrderResult 为下单结果。交易所拒单不是程序错误：
// Accepted=false 且 Reason 携带诊断信息。
type OrderResult struct {
	OrderID     string
	Accepted    bool
	Reason      string
	Description string
}

// Cash 返回指定现金资产的余额，未持有时为 0。
func (s Snapshot) Cash(asset string) float64 {
	return s[asset]
}
