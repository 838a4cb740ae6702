// Package logbuffer implements the shared-memory log a publication writes
// into: three rotating fixed-length term buffers followed by a metadata
// trailer that the client and the driver both mutate.
//
// # Layout
//
//	+-----------------+-----------------+-----------------+----------+
//	|  term 0         |  term 1         |  term 2         | metadata |
//	+-----------------+-----------------+-----------------+----------+
//
// Every term buffer has the same power-of-two length. The metadata trailer
// holds one raw tail per term (term id in the high 32 bits, tail offset in
// the low 32 bits), the active term count, the connection flag and the
// constants fixed when the log was created.
//
// # Positions
//
// A stream position encodes the number of rotations since the start of the
// stream and the byte offset within the active term:
//
//	position = termCount << positionBitsToShift | termOffset
//
// PositionCodec converts between the two forms.
//
// # Concurrency
//
// The metadata is shared across process boundaries. LogMetadata is the only
// way to reach it and every accessor uses sync/atomic, so no field is ever
// read or written with plain memory operations. Rotation is lock-free:
// RotateLog uses compare-and-swap on the next term tail and on the active
// term count, so concurrent rotations for the same exhausted term result in
// exactly one advance.
package logbuffer
