package shaperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Container (C) Errors
var (
	ErrContainerParse = errors.New("C1|ContainerParse: The executable image could not be parsed.")
)

// Record (R) Errors
var (
	ErrUnknownRecordTag     = errors.New("R1|UnknownRecordTag: A record tag is not present in the tag table.")
	ErrRecordLengthOverflow = errors.New("R2|RecordLengthOverflow: A record's computed length runs past the end of the code.")
	ErrMalformedRecord      = errors.New("R3|MalformedRecord: A record's payload is inconsistent with its tag.")
)

// Disassembler (X) Errors
var (
	ErrUnknownOpcode             = errors.New("X1|UnknownOpcode: The opcode and extension pair has no descriptor.")
	ErrTruncatedInstruction      = errors.New("X2|TruncatedInstruction: The code ended in the middle of an instruction.")
	ErrUnsupportedAddressingForm = errors.New("X3|UnsupportedAddressingForm: The ModR/M form is outside the supported subset.")
)

// Interpreter (V) Errors
var (
	ErrUnmappedMemoryAccess        = errors.New("V1|UnmappedMemoryAccess: An address is not mapped in the memory map.")
	ErrWriteToReadOnlyOrTrampoline = errors.New("V2|WriteToReadOnlyOrTrampoline: A store targeted a constant or a trampoline.")
	ErrStepBudgetExhausted         = errors.New("V3|StepBudgetExhausted: The caller's instruction budget ran out.")
	ErrUnhandledTrampoline         = errors.New("V4|UnhandledTrampoline: No handler is registered for a trampoline symbol.")
)

// ContainerErrorKind distinguishes the ways an image can be rejected.
type ContainerErrorKind uint8

const (
	ContainerTruncated ContainerErrorKind = iota
	ContainerMalformedHeader
	ContainerSectionOverflow
	ContainerSectionOverlap
	ContainerMissingCode
	ContainerRelocationOutOfRange
	ContainerMalformedImports
)

func (k ContainerErrorKind) String() string {
	switch k {
	case ContainerTruncated:
		return "truncated"
	case ContainerMalformedHeader:
		return "malformed header"
	case ContainerSectionOverflow:
		return "section overflow"
	case ContainerSectionOverlap:
		return "section overlap"
	case ContainerMissingCode:
		return "missing code section"
	case ContainerRelocationOutOfRange:
		return "relocation out of range"
	case ContainerMalformedImports:
		return "malformed imports"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type ContainerError struct {
	Kind   ContainerErrorKind
	Offset int
	Detail string
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("%s: %s at 0x%x: %s", GetErrorName(ErrContainerParse), e.Kind, e.Offset, e.Detail)
}

func (e *ContainerError) Unwrap() error { return ErrContainerParse }

// RecordError locates a record decoding failure. Need and Have are only set
// for length overflows.
type RecordError struct {
	Err    error
	Offset int
	Tag    byte
	Need   int
	Have   int
	Detail string
}

func (e *RecordError) Error() string {
	switch {
	case errors.Is(e.Err, ErrRecordLengthOverflow):
		return fmt.Sprintf("%s: tag 0x%02X at offset 0x%04x needs %d bytes, %d available", GetErrorName(e.Err), e.Tag, e.Offset, e.Need, e.Have)
	case e.Detail != "":
		return fmt.Sprintf("%s: tag 0x%02X at offset 0x%04x: %s", GetErrorName(e.Err), e.Tag, e.Offset, e.Detail)
	default:
		return fmt.Sprintf("%s: tag 0x%02X at offset 0x%04x", GetErrorName(e.Err), e.Tag, e.Offset)
	}
}

func (e *RecordError) Unwrap() error { return e.Err }

// DecodeError reports an instruction the disassembler could not accept.
// Phase names the read that ran out of bytes for truncations.
type DecodeError struct {
	Err    error
	Offset int
	Opcode byte
	Ext    byte
	Phase  string
}

func (e *DecodeError) Error() string {
	switch {
	case errors.Is(e.Err, ErrTruncatedInstruction):
		return fmt.Sprintf("%s: at offset %d during %s", GetErrorName(e.Err), e.Offset, e.Phase)
	case errors.Is(e.Err, ErrUnknownOpcode):
		return fmt.Sprintf("%s: 0x%02X/%d at offset %d", GetErrorName(e.Err), e.Opcode, e.Ext, e.Offset)
	default:
		return fmt.Sprintf("%s: opcode 0x%02X at offset %d", GetErrorName(e.Err), e.Opcode, e.Offset)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MemoryError reports a faulting interpreter memory access.
type MemoryError struct {
	Err     error
	Address uint32
	Write   bool
}

func (e *MemoryError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("%s: %s at 0x%08X", GetErrorName(e.Err), op, e.Address)
}

func (e *MemoryError) Unwrap() error { return e.Err }

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// Classify returns the code of the first sentinel err wraps, e.g. "R1".
func Classify(err error) string {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return GetErrorCode(s)
		}
	}
	return ""
}

var sentinels = []error{
	ErrContainerParse,
	ErrUnknownRecordTag, ErrRecordLengthOverflow, ErrMalformedRecord,
	ErrUnknownOpcode, ErrTruncatedInstruction, ErrUnsupportedAddressingForm,
	ErrUnmappedMemoryAccess, ErrWriteToReadOnlyOrTrampoline, ErrStepBudgetExhausted, ErrUnhandledTrampoline,
}
