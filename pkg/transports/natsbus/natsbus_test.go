package natsbus

import "testing"

func TestSubject(t *testing.T) {
	tests := []struct {
		providerID string
		want       string
	}{
		{"provider-a", "fedbroker.rpc.provider-a"},
		{"eu.cloud-7", "fedbroker.rpc.eu.cloud-7"},
	}
	for _, tt := range tests {
		if got := Subject(tt.providerID); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.providerID, got, tt.want)
		}
	}
}
