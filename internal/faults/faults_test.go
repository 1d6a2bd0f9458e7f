package faults

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{
			name: "direct match",
			err:  New(KindNotFound, "start", "VM %s does not exist", "web-01"),
			kind: KindNotFound,
			want: true,
		},
		{
			name: "wrapped match",
			err:  fmt.Errorf("deploy failed: %w", Wrap(KindTransport, "virsh start", errors.New("exit status 1"))),
			kind: KindTransport,
			want: true,
		},
		{
			name: "kind mismatch",
			err:  New(KindTimeout, "wait", "exhausted attempts"),
			kind: KindNotFound,
			want: false,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			kind: KindTransport,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKind(tt.err, tt.kind); got != tt.want {
				t.Errorf("IsKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindOperation, "operation-1234", errors.New("quota exceeded"))
	msg := err.Error()
	for _, want := range []string{"operation-1234", "operation error", "quota exceeded"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}
