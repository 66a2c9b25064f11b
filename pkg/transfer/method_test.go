package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		known   bool
		wantErr bool
	}{
		{in: "GET", want: MethodGet, known: true},
		{in: "put", want: MethodPut, known: true},
		{in: " Head ", want: MethodHead, known: true},
		{in: "DELETE", want: MethodDelete, known: true},
		{in: "PATCH", want: Method("PATCH")},
		{in: "", wantErr: true},
		{in: "BAD METHOD", wantErr: true},
		{in: "GET/1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, got.Known())
		})
	}
}
