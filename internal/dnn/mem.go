package dnn

import "unsafe"

// Workspaces come from 8-byte aligned host buffers, so any 4-byte element
// view of their prefix is aligned.

func asFloat32s(b []byte, n int) []float32 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n) //nolint:gosec // length checked by the caller
}

func asInt32s(b []byte, n int) []int32 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), n) //nolint:gosec // length checked by the caller
}

func asInt64s(b []byte, n int) []int64 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&b[0])), n) //nolint:gosec // length checked by the caller
}
