package glob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		subj    string
		want    bool
	}{
		{"", "", true},
		{"", "x", false},
		{"*", "anything", true},
		{"src.users", "src.users", true},
		{"src.users", "src.orders", false},
		{"src.*", "src.users", true},
		{"src.*", "dst.users", false},
		{"*.users", "src.users", true},
		{"src.tmp_*", "src.tmp_users", true},
		{"src.tmp_*", "src.users", false},
		{"*_log", "audit_log", true},
		{"a*c*e", "abcde", true},
		{"a*c*e", "abde", false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, Match(tc.pattern, tc.subj), "pattern=%q subj=%q", tc.pattern, tc.subj)
	}
}
