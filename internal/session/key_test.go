package session

import "testing"

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"channel", BuildKey("telegram", "direct", "12345"), "telegram:direct:12345"},
		{"group", BuildKey("telegram", "group", "-99"), "telegram:group:-99"},
		{"subagent", BuildSubagentKey("run-1"), "subagent:run-1"},
		{"cron", BuildCronKey("job-7"), "cron:job-7"},
		{"heartbeat", BuildHeartbeatKey("loopback"), "heartbeat:loopback"},
	}
	for _, tt := range tests {
		if tt.key != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.key, tt.want)
		}
	}
}

func TestKeyPredicates(t *testing.T) {
	if !IsSubagentKey("subagent:run-1") || IsSubagentKey("telegram:direct:1") {
		t.Error("IsSubagentKey misclassifies")
	}
	if !IsCronKey("cron:job-1") || IsCronKey("subagent:x") {
		t.Error("IsCronKey misclassifies")
	}
	if !IsHeartbeatKey("heartbeat:loopback") || IsHeartbeatKey("cron:x") {
		t.Error("IsHeartbeatKey misclassifies")
	}
}

func TestSafeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"telegram:direct:12345", "telegram_direct_12345"},
		{"subagent:ab-cd_ef", "subagent_ab-cd_ef"},
		{"a/b\\c d", "a_b_c_d"},
		{"Ünïcode", "_n_code"},
	}
	for _, tt := range tests {
		if got := SafeKey(tt.in); got != tt.want {
			t.Errorf("SafeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeKeyCollisionFree(t *testing.T) {
	// Different transports must never map to the same file.
	a := SafeKey(BuildKey("telegram", "direct", "1"))
	b := SafeKey(BuildKey("discord", "direct", "1"))
	if a == b {
		t.Fatal("distinct keys collide")
	}
}
