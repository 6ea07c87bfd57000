package att

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "known code and opcode",
			err:  NewError(ErrWriteRequestRejected, OpWriteRequest, 0x0003),
			want: "ATT Error: Write Request Rejected (handle 0x0003, request Write Request)",
		},
		{
			name: "application error range",
			err:  NewError(0x85, OpWriteCommand, 0x0010),
			want: "Application Error (0x85)",
		},
		{
			name: "unknown code and opcode",
			err:  NewError(0x42, 0x99, 0x0001),
			want: "Unknown Error (0x42) (handle 0x0001, request 0x99)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); !strings.Contains(got, tt.want) {
				t.Errorf("Error() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	attErr := NewError(ErrCCCDImproperlyConfigured, OpWriteRequest, 0x0004)

	if code := GetErrorCode(attErr); code != ErrCCCDImproperlyConfigured {
		t.Errorf("direct: got 0x%02X", code)
	}
	if code := GetErrorCode(errors.Wrap(attErr, "subscribe")); code != ErrCCCDImproperlyConfigured {
		t.Errorf("wrapped: got 0x%02X", code)
	}
	if code := GetErrorCode(errors.New("plain")); code != 0 {
		t.Errorf("plain error: got 0x%02X, want 0", code)
	}
	if code := GetErrorCode(nil); code != 0 {
		t.Errorf("nil: got 0x%02X, want 0", code)
	}
	t.Logf("✅ ATT error codes survive wrapping")
}
