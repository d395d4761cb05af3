package main

import "testing"

func TestInsertArgs(t *testing.T) {
	tests := []struct {
		line    string
		pos     int
		text    string
		wantErr bool
	}{
		{line: "i 5 hello", pos: 5, text: "hello"},
		{line: "i 5 two words", pos: 5, text: "two words"},
		{line: "i  5 x", pos: 5, text: "x"},
		{line: "i 0 !", pos: 0, text: "!"},
		{line: "i x hello", wantErr: true},
		{line: "i 5", wantErr: true},
		{line: "i 5 ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			pos, text, err := insertArgs(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got pos=%d text=%q", pos, text)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if pos != tt.pos || text != tt.text {
				t.Errorf("got (%d, %q), expected (%d, %q)", pos, text, tt.pos, tt.text)
			}
		})
	}
}
