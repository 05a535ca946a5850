package shaperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorNames(t *testing.T) {
	assert.Equal(t, "UnknownRecordTag", GetErrorName(ErrUnknownRecordTag))
	assert.Equal(t, "X2", GetErrorCode(ErrTruncatedInstruction))
	assert.Equal(t, "No Error", GetErrorName(nil))
}

func TestStructuredErrorsMatchSentinels(t *testing.T) {
	rec := &RecordError{Err: ErrRecordLengthOverflow, Offset: 0x20, Tag: 0xFC, Need: 12, Have: 3}
	wrapped := fmt.Errorf("decode shape: %w", rec)
	assert.True(t, errors.Is(wrapped, ErrRecordLengthOverflow))
	assert.Equal(t, "R2", Classify(wrapped))
	assert.Contains(t, rec.Error(), "needs 12 bytes, 3 available")

	var re *RecordError
	if !errors.As(wrapped, &re) {
		t.Fatalf("Expected RecordError in chain")
	}
	assert.Equal(t, 0x20, re.Offset)

	ce := &ContainerError{Kind: ContainerSectionOverlap, Offset: 0x178}
	assert.True(t, errors.Is(ce, ErrContainerParse))
	assert.Contains(t, ce.Error(), "section overlap")

	me := &MemoryError{Err: ErrWriteToReadOnlyOrTrampoline, Address: 0xAA000010, Write: true}
	assert.Equal(t, "V2", Classify(me))
	assert.Equal(t, "", Classify(errors.New("plain")))
}
