package app

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", nil, CommandServe},
		{"serve指定", []string{"serve"}, CommandServe},
		{"migrate指定", []string{"migrate"}, CommandMigrate},
		{"healthcheck指定", []string{"healthcheck"}, CommandHealthcheck},
		{"未知のコマンドはserve", []string{"unknown"}, CommandServe},
		{"後続引数は無視", []string{"migrate", "extra"}, CommandMigrate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}
