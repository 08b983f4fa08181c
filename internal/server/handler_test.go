package server

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLine(t *testing.T) {
	type result struct {
		line    string
		tooLong bool
	}

	tests := []struct {
		name   string
		input  string
		maxLen int
		want   []result
	}{
		{
			name:   "lines within limit",
			input:  "ADD 1 2\nSUB 3 4\n",
			maxLen: 32,
			want:   []result{{"ADD 1 2\n", false}, {"SUB 3 4\n", false}},
		},
		{
			name:   "exactly at limit",
			input:  "ADD 1 2\n",
			maxLen: 8,
			want:   []result{{"ADD 1 2\n", false}},
		},
		{
			name:   "over limit then valid line",
			input:  "ADD 11 22\nMUL 6 7\n",
			maxLen: 8,
			want:   []result{{"", true}, {"MUL 6 7\n", false}},
		},
		{
			name:   "over limit spanning several buffer fills",
			input:  strings.Repeat("9", 100) + "\nDIV 7 2\n",
			maxLen: 32,
			want:   []result{{"", true}, {"DIV 7 2\n", false}},
		},
		{
			name:   "final line without newline",
			input:  "ADD 1 2",
			maxLen: 32,
			want:   []result{{"ADD 1 2", false}},
		},
		{
			name:   "over limit final line without newline",
			input:  strings.Repeat("x", 64),
			maxLen: 32,
			want:   []result{{"", true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Smallest bufio buffer so long lines hit ErrBufferFull
			r := bufio.NewReaderSize(strings.NewReader(tt.input), 16)

			var got []result
			for {
				line, tooLong, err := readLine(r, tt.maxLen)
				if len(line) > 0 || tooLong {
					got = append(got, result{line, tooLong})
				}
				if err != nil {
					require.ErrorIs(t, err, io.EOF)
					break
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
