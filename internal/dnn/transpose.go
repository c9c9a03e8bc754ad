package dnn

import "fmt"

// TransposeWorkspaceSize returns the scratch bytes Transpose needs: one
// int64 source stride per output axis.
func (h *Handle) TransposeWorkspaceSize(x *TensorDescriptor, t *TransposeDescriptor) (int, error) {
	const call = "GetTransposeWorkspaceSize"
	if err := h.enter(call); err != nil {
		return 0, err
	}
	if err := transposeProblem(call, x, t); err != nil {
		return 0, err
	}
	return len(t.perm) * 8, nil
}

func transposeProblem(call string, x *TensorDescriptor, t *TransposeDescriptor) error {
	if err := x.usable(call); err != nil {
		return err
	}
	if err := t.usable(call); err != nil {
		return err
	}
	if len(t.perm) == 0 || len(t.perm) != len(x.dims) {
		return fmt.Errorf("%s: permutation %v for rank %d: %w", call, t.perm, len(x.dims), ErrBadParam)
	}
	return nil
}

// Transpose permutes x into y. Data slices hold raw elements of the
// descriptor's data type.
func (h *Handle) Transpose(t *TransposeDescriptor, x *TensorDescriptor, xData []byte, y *TensorDescriptor, yData []byte, ws []byte) error {
	const call = "Transpose"
	if err := h.enter(call); err != nil {
		return err
	}
	if err := transposeProblem(call, x, t); err != nil {
		return err
	}
	if err := y.usable(call); err != nil {
		return err
	}
	rank := len(t.perm)
	if len(y.dims) != rank || y.dtype != x.dtype {
		return fmt.Errorf("%s: output %v %s: %w", call, y.dims, y.dtype, ErrBadParam)
	}
	for i, p := range t.perm {
		if y.dims[i] != x.dims[p] {
			return fmt.Errorf("%s: output %v is not %v permuted by %v: %w", call, y.dims, x.dims, t.perm, ErrBadParam)
		}
	}
	size := x.dtype.Size()
	n := x.elements()
	if len(xData) < n*size || len(yData) < n*size {
		return fmt.Errorf("%s: buffers shorter than their descriptors: %w", call, ErrBadParam)
	}
	if len(ws) < rank*8 {
		return fmt.Errorf("%s: workspace %d bytes, need %d: %w", call, len(ws), rank*8, ErrBadParam)
	}

	inStride := make([]int, rank)
	acc := 1
	for i := rank - 1; i >= 0; i-- {
		inStride[i] = acc
		acc *= x.dims[i]
	}
	src := asInt64s(ws, rank)
	for i, p := range t.perm {
		src[i] = int64(inStride[p])
	}

	idx := make([]int, rank)
	for o := range n {
		off := 0
		for d := range rank {
			off += idx[d] * int(src[d])
		}
		copy(yData[o*size:(o+1)*size], xData[off*size:(off+1)*size])
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < y.dims[d] {
				break
			}
			idx[d] = 0
		}
	}
	return nil
}
