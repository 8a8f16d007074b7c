package event

import "testing"

func TestResultErrorTypesAreDistinct(t *testing.T) {
	types := []ErrorType{ErrAborted, ErrChatDisabled, ErrMaxTurnsExceeded, ErrAPIError}
	seen := map[ErrorType]bool{}
	for _, ty := range types {
		if seen[ty] {
			t.Fatalf("duplicate ErrorType value %q", ty)
		}
		seen[ty] = true
	}
}

func TestEventZeroValueIsInert(t *testing.T) {
	var e Event
	if e.Type != "" {
		t.Errorf("expected zero-value Event to have empty Type, got %q", e.Type)
	}
	if e.ToolResult != nil {
		t.Error("expected zero-value Event to have nil ToolResult")
	}
}

func TestLoopResultCarriesMetadata(t *testing.T) {
	r := LoopResult{
		Success: true,
		Metadata: Metadata{
			TurnsCount:     3,
			ToolCallsCount: 2,
			TokensUsed:     150,
		},
	}
	if r.Metadata.TurnsCount != 3 || r.Metadata.ToolCallsCount != 2 || r.Metadata.TokensUsed != 150 {
		t.Errorf("metadata fields did not round-trip: %+v", r.Metadata)
	}
}
