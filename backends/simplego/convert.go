// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/x448/float16"
)

// roundTo returns v rounded to what the canonical dtype can represent.
//
// Complex dtypes only hold the real part.
func roundTo(dtype string, v float64) float64 {
	switch dtype {
	case dtypes.Bool:
		if v != 0 {
			return 1
		}
		return 0
	case dtypes.Int8:
		return float64(int8(math.Trunc(v)))
	case dtypes.Int16:
		return float64(int16(math.Trunc(v)))
	case dtypes.Int32:
		return float64(int32(math.Trunc(v)))
	case dtypes.Int64:
		return math.Trunc(v)
	case dtypes.Uint8:
		return float64(uint8(math.Trunc(v)))
	case dtypes.Uint16:
		return float64(uint16(math.Trunc(v)))
	case dtypes.Uint32:
		return float64(uint32(math.Trunc(v)))
	case dtypes.Uint64:
		return math.Max(0, math.Trunc(v))
	case dtypes.Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case dtypes.BFloat16:
		return float64(bfloat16.FromFloat32(float32(v)).Float32())
	case dtypes.Float32, dtypes.Complex64:
		return float64(float32(v))
	}
	return v
}

// castFlat returns a copy of flat with the values rounded to dtype.
func castFlat(dtype string, flat []float64) []float64 {
	out := make([]float64, len(flat))
	for ii, v := range flat {
		out[ii] = roundTo(dtype, v)
	}
	return out
}

// flatten converts the data argument of the array operation to flat values and dimensions.
func flatten(data any) (flat []float64, dims []int, err error) {
	switch v := data.(type) {
	case float64:
		return []float64{v}, nil, nil
	case float32:
		return []float64{float64(v)}, nil, nil
	case int:
		return []float64{float64(v)}, nil, nil
	case bool:
		if v {
			return []float64{1}, nil, nil
		}
		return []float64{0}, nil, nil
	case []float64:
		return append([]float64(nil), v...), []int{len(v)}, nil
	case []float32:
		flat = make([]float64, len(v))
		for ii, x := range v {
			flat[ii] = float64(x)
		}
		return flat, []int{len(v)}, nil
	case []int:
		flat = make([]float64, len(v))
		for ii, x := range v {
			flat[ii] = float64(x)
		}
		return flat, []int{len(v)}, nil
	case []bool:
		flat = make([]float64, len(v))
		for ii, x := range v {
			if x {
				flat[ii] = 1
			}
		}
		return flat, []int{len(v)}, nil
	case [][]float64:
		if len(v) == 0 {
			return nil, []int{0, 0}, nil
		}
		cols := len(v[0])
		flat = make([]float64, 0, len(v)*cols)
		for ii, row := range v {
			if len(row) != cols {
				return nil, nil, errdefs.Configurationf("ragged array data: row #%d has %d elements, expected %d",
					ii, len(row), cols)
			}
			flat = append(flat, row...)
		}
		return flat, []int{len(v), cols}, nil
	}
	return nil, nil, errdefs.Configurationf("unsupported array data type %T", data)
}
