package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid ticket", validTicket, false},
		{"segments only", `{"segments": []}`, false},
		{"missing segments", `{"booking_ref": "YOWZA"}`, true},
		{"lower case airport", `{"segments": [{"marketing_flight_no": "SA53", "dep": {"iata": "acc"}, "arr": {"iata": "JNB"}}]}`, true},
		{"bad time", `{"segments": [{"marketing_flight_no": "SA53", "dep": {"iata": "ACC", "time_local": "8pm"}, "arr": {"iata": "JNB"}}]}`, true},
		{"short booking ref", `{"booking_ref": "AB1", "segments": []}`, true},
		{"unknown passenger type", `{"passengers": [{"full_name": "A B", "type": "PET"}], "segments": []}`, true},
		{"not json", `{"segments":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidOutput))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tk, err := Decode([]byte(validTicket))
	require.NoError(t, err)
	assert.Equal(t, "SA53", tk.Segments[0].MarketingFlightNo)
	assert.Equal(t, "2025-09-28", tk.Segments[0].Dep.Date)
	assert.Equal(t, "JOHN SMITH", tk.Passengers[0].FullName)

	_, err = Decode([]byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidOutput)
}
