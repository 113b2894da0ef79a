// Package crc provides the default CRC-32 accumulator used by the
// reference host implementations. Per the DWL format, the real
// cryptographic primitive is a host capability (spec §6); this type
// exists so tests and the pkgdl command have a drop-in
// implementation of the `crc32(acc, bytes) -> acc` contract.
package crc

import "hash/crc32"

// CRC32 is a running accumulator, mirroring the value-type accumulator
// pattern used for CRC16 in CANopen block transfers: zero value is the
// initial state, Block folds in a byte range and returns the updated
// accumulator.
type CRC32 uint32

// Block folds buffer into the accumulator using the IEEE polynomial,
// the same one referenced by DWL tooling in the field.
func (acc CRC32) Block(buffer []byte) CRC32 {
	if len(buffer) == 0 {
		return acc
	}
	return CRC32(crc32.Update(uint32(acc), crc32.IEEETable, buffer))
}

// Func adapts CRC32.Block to the host capability signature expected by
// pkg/dwl: func(acc uint32, bytes []byte) uint32.
func Func(acc uint32, buffer []byte) uint32 {
	return uint32(CRC32(acc).Block(buffer))
}
