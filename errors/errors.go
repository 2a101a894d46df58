// Package errors contains the tagged-sentinel error taxonomy used across
// the disk, dos3, prodos, filesystem, flux and formats packages.
//
// Each error kind is a distinct type implementing a small marker
// interface (IsXxx()), so callers can dispatch on the kind of failure with
// a type assertion (IsNotFound(err)) instead of comparing against a fixed
// sentinel value or parsing a message. Lower-level causes are attached with
// github.com/pkg/errors.Wrap, so Cause(err) still recovers the underlying
// I/O or parse error. The IsXxx helpers check only the error they are
// given, not what it wraps; IsXxx(Cause(err)) checks a wrapped error's tag.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// New is a pass-through, so callers that only need this package can avoid a
// second import of the standard errors package.
func New(text string) error {
	return pkgerrors.New(text)
}

// Wrap attaches additional context to err. The wrapper carries no tag of
// its own, so the IsXxx helpers report false for it; Cause(wrapped)
// returns the tagged original.
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

// Cause returns the underlying cause of an error by following pkg/errors
// wrappers (errors with a Cause() method); fmt.Errorf("...: %w", ...)
// wrapping is not followed.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}

// kind is the underlying struct (name and message) of every tagged error
// type below.
type kind struct {
	name string
	msg  string
}

func (k kind) Error() string { return k.msg }

func newKind(name, format string, a ...interface{}) kind {
	return kind{name: name, msg: fmt.Sprintf(format, a...)}
}

// --------------------- InvalidArgument

type invalidArgument kind

// InvalidArgumentI tags errors caused by a caller-supplied argument that
// fails a precondition (bad track/sector, malformed filename, etc).
type InvalidArgumentI interface{ IsInvalidArgument() }

func (e invalidArgument) Error() string        { return kind(e).Error() }
func (e invalidArgument) IsInvalidArgument()   {}
func InvalidArgumentf(format string, a ...interface{}) error {
	return invalidArgument(newKind("InvalidArgument", format, a...))
}
func IsInvalidArgument(err error) bool {
	_, ok := err.(InvalidArgumentI)
	return ok
}

// --------------------- OutOfMemory

type outOfMemory kind

// OutOfMemoryI tags errors caused by exceeding an in-process allocation
// limit (as opposed to DiskFull, which is a property of the volume).
type OutOfMemoryI interface{ IsOutOfMemory() }

func (e outOfMemory) Error() string   { return kind(e).Error() }
func (e outOfMemory) IsOutOfMemory()  {}
func OutOfMemoryf(format string, a ...interface{}) error {
	return outOfMemory(newKind("OutOfMemory", format, a...))
}
func IsOutOfMemory(err error) bool {
	_, ok := err.(OutOfMemoryI)
	return ok
}

// --------------------- IO

type ioError kind

// IOI tags errors caused by a failure to read or write the backing byte
// slice (short image, truncated device, etc).
type IOI interface{ IsIO() }

func (e ioError) Error() string { return kind(e).Error() }
func (e ioError) IsIO()         {}
func IOf(format string, a ...interface{}) error {
	return ioError(newKind("IO", format, a...))
}
func IsIO(err error) bool {
	_, ok := err.(IOI)
	return ok
}

// --------------------- NotFound

type notFound kind

// NotFoundI tags errors returned when a named file, directory, track or
// block cannot be located.
type NotFoundI interface{ IsNotFound() }

func (e notFound) Error() string { return kind(e).Error() }
func (e notFound) IsNotFound()   {}
func NotFoundf(format string, a ...interface{}) error {
	return notFound(newKind("NotFound", format, a...))
}
func IsNotFound(err error) bool {
	_, ok := err.(NotFoundI)
	return ok
}

// --------------------- Exists

type exists kind

// ExistsI tags errors returned when an operation would overwrite an
// existing file and the caller asked not to.
type ExistsI interface{ IsExists() }

func (e exists) Error() string { return kind(e).Error() }
func (e exists) IsExists()     {}
func Existsf(format string, a ...interface{}) error {
	return exists(newKind("Exists", format, a...))
}
func IsExists(err error) bool {
	_, ok := err.(ExistsI)
	return ok
}

// --------------------- DiskFull

type diskFull kind

// DiskFullI tags errors returned when a volume has no more free
// sectors/blocks to satisfy an allocation request.
type DiskFullI interface{ IsDiskFull() }

func (e diskFull) Error() string { return kind(e).Error() }
func (e diskFull) IsDiskFull()   {}
func DiskFullf(format string, a ...interface{}) error {
	return diskFull(newKind("DiskFull", format, a...))
}
func IsDiskFull(err error) bool {
	_, ok := err.(DiskFullI)
	return ok
}

// --------------------- ReadOnly

type readOnly kind

// ReadOnlyI tags errors returned when a write operation is attempted
// against a locked file or a volume opened read-only.
type ReadOnlyI interface{ IsReadOnly() }

func (e readOnly) Error() string { return kind(e).Error() }
func (e readOnly) IsReadOnly()   {}
func ReadOnlyf(format string, a ...interface{}) error {
	return readOnly(newKind("ReadOnly", format, a...))
}
func IsReadOnly(err error) bool {
	_, ok := err.(ReadOnlyI)
	return ok
}

// --------------------- BadChain

type badChain kind

// BadChainI tags errors found while walking a track/sector list or block
// index chain: a cycle, an out-of-range pointer, or a safety cap exceeded.
type BadChainI interface{ IsBadChain() }

func (e badChain) Error() string { return kind(e).Error() }
func (e badChain) IsBadChain()   {}
func BadChainf(format string, a ...interface{}) error {
	return badChain(newKind("BadChain", format, a...))
}
func IsBadChain(err error) bool {
	_, ok := err.(BadChainI)
	return ok
}

// --------------------- BadType

type badType kind

// BadTypeI tags errors returned when a structure's type/storage-type byte
// doesn't match what the caller expected (e.g. GetFile on a directory).
type BadTypeI interface{ IsBadType() }

func (e badType) Error() string { return kind(e).Error() }
func (e badType) IsBadType()    {}
func BadTypef(format string, a ...interface{}) error {
	return badType(newKind("BadType", format, a...))
}
func IsBadType(err error) bool {
	_, ok := err.(BadTypeI)
	return ok
}

// --------------------- NoData

type noData kind

// NoDataI tags errors returned when a flux sample stream is empty or a
// requested revolution range contains no samples.
type NoDataI interface{ IsNoData() }

func (e noData) Error() string { return kind(e).Error() }
func (e noData) IsNoData()     {}
func NoDataf(format string, a ...interface{}) error {
	return noData(newKind("NoData", format, a...))
}
func IsNoData(err error) bool {
	_, ok := err.(NoDataI)
	return ok
}

// --------------------- NoIndex

type noIndex kind

// NoIndexI tags errors returned when index-pulse positions were required
// but none were supplied or none could be inferred.
type NoIndexI interface{ IsNoIndex() }

func (e noIndex) Error() string { return kind(e).Error() }
func (e noIndex) IsNoIndex()    {}
func NoIndexf(format string, a ...interface{}) error {
	return noIndex(newKind("NoIndex", format, a...))
}
func IsNoIndex(err error) bool {
	_, ok := err.(NoIndexI)
	return ok
}

// --------------------- InsufficientData

type insufficientData kind

// InsufficientDataI tags errors returned when fewer samples/revolutions
// were supplied than an algorithm needs to produce a meaningful result.
type InsufficientDataI interface{ IsInsufficientData() }

func (e insufficientData) Error() string      { return kind(e).Error() }
func (e insufficientData) IsInsufficientData() {}
func InsufficientDataf(format string, a ...interface{}) error {
	return insufficientData(newKind("InsufficientData", format, a...))
}
func IsInsufficientData(err error) bool {
	_, ok := err.(InsufficientDataI)
	return ok
}

// --------------------- OutOfRange

type outOfRange kind

// OutOfRangeI tags errors returned when a numeric argument (track,
// sector, block, bit offset) falls outside the valid range for the
// structure being addressed.
type OutOfRangeI interface{ IsOutOfRange() }

func (e outOfRange) Error() string { return kind(e).Error() }
func (e outOfRange) IsOutOfRange() {}
func OutOfRangef(format string, a ...interface{}) error {
	return outOfRange(newKind("OutOfRange", format, a...))
}
func IsOutOfRange(err error) bool {
	_, ok := err.(OutOfRangeI)
	return ok
}

// --------------------- BufferTooSmall

type bufferTooSmall kind

// BufferTooSmallI tags errors returned when a caller-supplied buffer is
// smaller than the fixed size a marshal routine requires.
type BufferTooSmallI interface{ IsBufferTooSmall() }

func (e bufferTooSmall) Error() string    { return kind(e).Error() }
func (e bufferTooSmall) IsBufferTooSmall() {}
func BufferTooSmallf(format string, a ...interface{}) error {
	return bufferTooSmall(newKind("BufferTooSmall", format, a...))
}
func IsBufferTooSmall(err error) bool {
	_, ok := err.(BufferTooSmallI)
	return ok
}
