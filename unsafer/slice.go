package unsafer

import (
	"reflect"
	"unsafe"
)

// SliceToBytes interprets an arbitrary input slice as a byte slice.
//
// Note that the returned slice points to the same underlying data in memory. It
// does not make a copy.
func SliceToBytes[T any](input []T) []byte {
	header := *(*reflect.SliceHeader)(unsafe.Pointer(&input))
	header.Len = int(unsafe.Sizeof(input[0])) * len(input)
	header.Cap = header.Len
	bytesSlice := *(*[]byte)(unsafe.Pointer(&header))
	return bytesSlice
}

// StructToBytes interprets the struct pointed to by input as a byte slice over
// the same memory. No copy is made.
func StructToBytes[T any](input *T) []byte {
	size := int(unsafe.Sizeof(*input))
	return unsafe.Slice((*byte)(unsafe.Pointer(input)), size)
}

// SliceBytesToUint32 interprets a byte slice as a slice of uint32 words. SPIR-V
// bytecode is defined in terms of 32 bit words, which is what the Vulkan API
// expects for shader modules.
func SliceBytesToUint32(input []byte) []uint32 {
	header := *(*reflect.SliceHeader)(unsafe.Pointer(&input))
	header.Len = len(input) / 4
	header.Cap = header.Len
	words := *(*[]uint32)(unsafe.Pointer(&header))
	return words
}
