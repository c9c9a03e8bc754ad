package op

import (
	"errors"
	"fmt"

	"github.com/born-ml/kerneltune/internal/tensor"
)

// ErrCycle is returned by TopoSort when operators depend on each other.
var ErrCycle = errors.New("graph: operators form a cycle")

// Graph holds the operators bound to one device, in insertion order.
type Graph struct {
	device  tensor.Device
	tensors []*tensor.RawTensor
	ops     []Operator
}

// NewGraph creates an empty graph for device.
func NewGraph(device tensor.Device) *Graph {
	return &Graph{device: device}
}

// Device returns the device every tensor and operator of the graph lives on.
func (g *Graph) Device() tensor.Device { return g.device }

// AddTensor allocates a tensor on the graph's device.
func (g *Graph) AddTensor(shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
	t, err := tensor.NewRaw(shape, dtype, g.device)
	if err != nil {
		return nil, err
	}
	g.tensors = append(g.tensors, t)
	return t, nil
}

// AddOp appends an operator built outside the graph.
func (g *Graph) AddOp(o Operator) error {
	for _, in := range o.Inputs() {
		if in.Device() != g.device {
			return fmt.Errorf("graph: %s input on %s, graph is on %s", o.Type(), in.Device(), g.device)
		}
	}
	g.ops = append(g.ops, o)
	g.tensors = append(g.tensors, o.Output())
	return nil
}

// AddConv adds a convolution with explicit padding.
func (g *Graph) AddConv(input, weight, bias *tensor.RawTensor, p ConvParams) (*ConvOp, error) {
	c, err := NewConv(input, weight, bias, p)
	if err != nil {
		return nil, err
	}
	return c, g.AddOp(c)
}

// AddConvWithPadding adds a convolution whose padding is derived from mode.
func (g *Graph) AddConvWithPadding(input, weight, bias *tensor.RawTensor, mode PaddingMode, p ConvParams) (*ConvOp, error) {
	c, err := NewConvWithPadding(input, weight, bias, mode, p)
	if err != nil {
		return nil, err
	}
	return c, g.AddOp(c)
}

// AddTranspose adds an axis permutation.
func (g *Graph) AddTranspose(input *tensor.RawTensor, perm []int) (*TransposeOp, error) {
	t, err := NewTranspose(input, perm)
	if err != nil {
		return nil, err
	}
	return t, g.AddOp(t)
}

// AddUnary adds an elementwise operator.
func (g *Graph) AddUnary(typ OpType, input *tensor.RawTensor) (*UnaryOp, error) {
	u, err := NewUnary(typ, input)
	if err != nil {
		return nil, err
	}
	return u, g.AddOp(u)
}

// Operators returns the operators in insertion order.
func (g *Graph) Operators() []Operator { return g.ops }

// Tensors returns every tensor of the graph, inputs and operator outputs.
func (g *Graph) Tensors() []*tensor.RawTensor { return g.tensors }

// TopoSort returns the operators in dependency order. Among operators that
// are ready at the same time, insertion order wins, so a graph built in
// execution order is returned unchanged.
func (g *Graph) TopoSort() ([]Operator, error) {
	producer := make(map[*tensor.RawTensor]int, len(g.ops))
	for i, o := range g.ops {
		producer[o.Output()] = i
	}

	n := len(g.ops)
	inDegree := make([]int, n)
	dependents := make([][]int, n)
	for i, o := range g.ops {
		for _, in := range o.Inputs() {
			if p, ok := producer[in]; ok {
				inDegree[i]++
				dependents[p] = append(dependents[p], i)
			}
		}
	}

	done := make([]bool, n)
	order := make([]Operator, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, ErrCycle
		}
		done[next] = true
		order = append(order, g.ops[next])
		for _, d := range dependents[next] {
			inDegree[d]--
		}
	}
	return order, nil
}

// Inputs returns tensors consumed by an operator and produced by none, in
// order of first use.
func (g *Graph) Inputs() []*tensor.RawTensor {
	produced := make(map[*tensor.RawTensor]bool)
	for _, o := range g.ops {
		produced[o.Output()] = true
	}
	seen := make(map[*tensor.RawTensor]bool)
	var ins []*tensor.RawTensor
	for _, o := range g.ops {
		for _, in := range o.Inputs() {
			if !produced[in] && !seen[in] {
				seen[in] = true
				ins = append(ins, in)
			}
		}
	}
	return ins
}

// Outputs returns tensors produced by an operator and consumed by none.
func (g *Graph) Outputs() []*tensor.RawTensor {
	consumed := make(map[*tensor.RawTensor]bool)
	for _, o := range g.ops {
		for _, in := range o.Inputs() {
			consumed[in] = true
		}
	}
	var outs []*tensor.RawTensor
	for _, o := range g.ops {
		if !consumed[o.Output()] {
			outs = append(outs, o.Output())
		}
	}
	return outs
}
