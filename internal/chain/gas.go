package chain

import "math/big"

// ScaleFees multiplies every populated fee field by the target's multiplier.
// Submission failures on congested networks almost always trace back to
// underpriced gas, so targets default to a 2x headroom.
func ScaleFees(fees *FeeData, multiplier float64) *FeeData {
	if fees == nil {
		return nil
	}
	if multiplier <= 1 {
		return fees
	}
	return &FeeData{
		GasPrice:  scaleBig(fees.GasPrice, multiplier),
		GasFeeCap: scaleBig(fees.GasFeeCap, multiplier),
		GasTipCap: scaleBig(fees.GasTipCap, multiplier),
	}
}

func scaleBig(value *big.Int, multiplier float64) *big.Int {
	if value == nil {
		return nil
	}
	scaled, _ := new(big.Float).Mul(
		new(big.Float).SetInt(value),
		big.NewFloat(multiplier),
	).Int(nil)
	return scaled
}
