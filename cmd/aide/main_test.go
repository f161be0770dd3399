package main

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"init failure", errors.New("load config: no such file"), 1},
		{"listener failure", &listenerError{err: errors.New("bind: address already in use")}, 2},
		{"wrapped listener failure", fmt.Errorf("serve: %w", &listenerError{err: errors.New("gateway: down")}), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
