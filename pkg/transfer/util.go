package transfer

import "math"

func math64bits(v float64) uint64     { return math.Float64bits(v) }
func math64frombits(b uint64) float64 { return math.Float64frombits(b) }
