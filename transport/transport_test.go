package transport

import "testing"

func TestStatusString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status Status
		want   string
	}{
		{StatusHandshakeStart, "handshake-start"},
		{StatusHandshakeDone, "handshake-done"},
		{StatusConnect, "connect"},
		{StatusPlayStart, "play-start"},
		{StatusFailed, "failed"},
		{StatusDisconnected, "disconnected"},
		{StatusUnknown, "unknown"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
