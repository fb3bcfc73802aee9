package scoring_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/vocascan/pkg/provider/scoring"
)

func TestDiagnosis_Variants(t *testing.T) {
	t.Parallel()

	ok := scoring.Success(440, 0.9, 87, "nice")
	if ok.IsError() || ok.Kind != scoring.KindSuccess {
		t.Errorf("Success produced %v", ok.Kind)
	}
	if got, want := ok.String(), "pitch=440.0Hz stability=0.90 score=87.0 (nice)"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}

	bad := scoring.Failure("service unavailable")
	if !bad.IsError() {
		t.Error("Failure should be the error variant")
	}
	if bad.Pitch != 0 || bad.Score != 0 || bad.Stability != 0 {
		t.Errorf("error variant carries success fields: %+v", bad)
	}
	if got := bad.String(); got != "error: service unavailable" {
		t.Errorf("String = %q", got)
	}
	if scoring.Failure("").Message == "" {
		t.Error("Failure should default an empty message")
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()
	for k, want := range map[scoring.Kind]string{
		scoring.KindSuccess: "success",
		scoring.KindError:   "error",
		scoring.Kind(9):     "Kind(9)",
	} {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  *scoring.TransportError
		want string
	}{
		{&scoring.TransportError{Op: "score", StatusCode: 503, Body: "busy"}, "scoring: score: status 503: busy"},
		{&scoring.TransportError{Op: "score", StatusCode: 500}, "scoring: score: status 500"},
		{&scoring.TransportError{Op: "score pitch", Err: errors.New("dial tcp: refused")}, "scoring: score pitch: dial tcp: refused"},
		{&scoring.TransportError{Op: "score"}, "scoring: score: transport failure"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}

	wrapped := fmt.Errorf("submit: %w", &scoring.TransportError{Op: "score", Err: context.Canceled})
	if !errors.Is(wrapped, context.Canceled) {
		t.Error("TransportError should unwrap to its cause")
	}
	var te *scoring.TransportError
	if !errors.As(wrapped, &te) || te.Op != "score" {
		t.Error("errors.As should find the TransportError")
	}
}
