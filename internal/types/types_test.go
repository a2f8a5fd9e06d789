package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageOptionsNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   PageOptions
		want PageOptions
	}{
		{
			name: "valid options unchanged",
			in:   PageOptions{PageNo: 2, Size: 50},
			want: PageOptions{PageNo: 2, Size: 50},
		},
		{
			name: "negative page clamped to zero",
			in:   PageOptions{PageNo: -3, Size: 10},
			want: PageOptions{PageNo: 0, Size: 10},
		},
		{
			name: "zero size defaults",
			in:   PageOptions{PageNo: 0, Size: 0},
			want: PageOptions{PageNo: 0, Size: DefaultPageSize},
		},
		{
			name: "oversized page capped",
			in:   PageOptions{PageNo: 1, Size: 5000},
			want: PageOptions{PageNo: 1, Size: MaxPageSize},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestPageOptionsOffset(t *testing.T) {
	assert.Equal(t, 0, PageOptions{PageNo: 0, Size: 30}.Offset())
	assert.Equal(t, 150, PageOptions{PageNo: 3, Size: 50}.Offset())
}
