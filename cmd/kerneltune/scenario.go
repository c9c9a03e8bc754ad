package main

import (
	"fmt"
	"strings"

	"github.com/born-ml/kerneltune/engine"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
)

// referenceConv is the convolution the CLI runs by default: a [1,3,4,4]
// input against [2,3,3,3] filters, both filled with their element index.
var referenceConv = op.ConvParams{
	PadH:      1,
	PadW:      1,
	StrideH:   2,
	StrideW:   1,
	DilationH: 1,
	DilationW: 2,
}

// buildScenario returns a one-operator graph for opName and the tensor the
// operator writes.
func buildScenario(eng *engine.Engine, opName string, dt engine.DataType) (*engine.Graph, *engine.RawTensor, error) {
	typ, ok := parseOp(opName)
	if !ok {
		return nil, nil, fmt.Errorf("unknown operator %q", opName)
	}

	g := eng.NewGraph()
	switch {
	case typ == op.Conv:
		in, err := g.AddTensor(tensor.Shape{1, 3, 4, 4}, dt)
		if err != nil {
			return nil, nil, err
		}
		w, err := g.AddTensor(tensor.Shape{2, 3, 3, 3}, dt)
		if err != nil {
			return nil, nil, err
		}
		in.Fill(tensor.IncrementalGenerator())
		w.Fill(tensor.IncrementalGenerator())
		conv, err := g.AddConv(in, w, nil, referenceConv)
		if err != nil {
			return nil, nil, err
		}
		return g, conv.Output(), nil

	case typ == op.Transpose:
		in, err := g.AddTensor(tensor.Shape{2, 3, 4}, dt)
		if err != nil {
			return nil, nil, err
		}
		in.Fill(tensor.IncrementalGenerator())
		tr, err := g.AddTranspose(in, []int{2, 0, 1})
		if err != nil {
			return nil, nil, err
		}
		return g, tr.Output(), nil

	case typ.IsUnary():
		in, err := g.AddTensor(tensor.Shape{2, 4}, dt)
		if err != nil {
			return nil, nil, err
		}
		offset := 0.0
		if typ == op.Acosh {
			offset = 1
		}
		in.Fill(func(i int) float64 { return offset + 0.1*float64(i+1) })
		u, err := g.AddUnary(typ, in)
		if err != nil {
			return nil, nil, err
		}
		return g, u.Output(), nil
	}
	return nil, nil, fmt.Errorf("operator %s has no scenario", typ)
}

func parseOp(s string) (op.OpType, bool) {
	for _, typ := range append([]op.OpType{op.Conv, op.Transpose, op.Relu, op.Sigmoid}, op.Trigonometric()...) {
		if strings.EqualFold(typ.String(), s) {
			return typ, true
		}
	}
	return 0, false
}
