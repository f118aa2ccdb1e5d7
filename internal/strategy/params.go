// Package strategy 实现库存偏移报价模型与库存再平衡。
package strategy

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"

	"htx-mm/internal/config"
)

// Parameters 为报价模型的全部常量，构造后只读。
type Parameters struct {
	InventoryTarget    float64
	InventoryLimit     float64
	Kappa              float64
	Alpha              float64
	Gamma              float64
	Sigma              float64
	Delta              float64
	OrderSize          float64
	MaxOrderSize       float64
	MaxSpreadRatio     float64
	MinProfitRatio     float64
	RebalanceThreshold float64
	PricePrecision     int32
	SizePrecision      int32
}

// ParametersFromConfig 由配置构造模型参数。
func ParametersFromConfig(s config.StrategyConfig, r config.RiskConfig) Parameters {
	return Parameters{
		InventoryTarget:    s.InventoryTarget,
		InventoryLimit:     s.EffectiveInventoryLimit(),
		Kappa:              s.Kappa,
		Alpha:              s.Alpha,
		Gamma:              s.Gamma,
		Sigma:              s.Sigma,
		Delta:              s.Delta,
		OrderSize:          s.OrderSize,
		MaxOrderSize:       r.MaxOrderSize,
		MaxSpreadRatio:     s.MaxSpreadRatio,
		MinProfitRatio:     s.MinProfitRatio,
		RebalanceThreshold: s.RebalanceThreshold,
		PricePrecision:     int32(s.PricePrecision),
		SizePrecision:      int32(s.SizePrecision),
	}
}

// Validate 汇总全部参数错误。
func (p Parameters) Validate() error {
	var err error

	for name, v := range map[string]float64{
		"inventory_target": p.InventoryTarget,
		"kappa":            p.Kappa,
		"alpha":            p.Alpha,
		"gamma":            p.Gamma,
		"sigma":            p.Sigma,
		"delta":            p.Delta,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			err = multierr.Append(err, fmt.Errorf("%s 必须为有限数值", name))
		}
	}
	if p.Gamma < 0 || p.Delta < 0 || p.Kappa < 0 || p.Alpha < 0 {
		err = multierr.Append(err, errors.New("kappa/alpha/gamma/delta 不能为负"))
	}
	if p.InventoryLimit <= 0 {
		err = multierr.Append(err, errors.New("inventory_limit 必须大于0"))
	}
	if p.OrderSize <= 0 {
		err = multierr.Append(err, errors.New("order_size 必须大于0"))
	}
	if p.MaxOrderSize > 0 && p.OrderSize > p.MaxOrderSize {
		err = multierr.Append(err, fmt.Errorf("order_size %.8f 超过 max_order_size %.8f", p.OrderSize, p.MaxOrderSize))
	}
	if p.MaxSpreadRatio <= 0 || p.MaxSpreadRatio >= 1 {
		err = multierr.Append(err, errors.New("max_spread_ratio 必须位于(0,1)"))
	}
	if p.MinProfitRatio < 0 {
		err = multierr.Append(err, errors.New("min_profit_ratio 不能为负"))
	}
	if p.RebalanceThreshold <= 0 {
		err = multierr.Append(err, errors.New("rebalance_threshold 必须大于0"))
	}
	if p.PricePrecision < 0 || p.PricePrecision > 12 {
		err = multierr.Append(err, errors.New("price_precision 必须位于[0,12]"))
	}
	if p.SizePrecision < 0 || p.SizePrecision > 12 {
		err = multierr.Append(err, errors.New("size_precision 必须位于[0,12]"))
	}

	if err != nil {
		return fmt.Errorf("strategy: 参数校验失败: %w", err)
	}
	return nil
}
