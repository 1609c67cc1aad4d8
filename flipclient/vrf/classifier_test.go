package vrf

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	flperrors "github.com/allouf/flipCoinFull-sub000/flipclient/errors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantType     ErrorType
		wantSeverity flperrors.Severity
		wantSwitch   bool
		wantEscalate bool
	}{
		{
			name:         "context deadline",
			err:          context.DeadlineExceeded,
			wantType:     ErrTypeTimeout,
			wantSeverity: flperrors.SeverityMedium,
			wantSwitch:   true,
		},
		{
			name:         "timeout message",
			err:          errors.New("rpc call timed out after 10s"),
			wantType:     ErrTypeTimeout,
			wantSeverity: flperrors.SeverityMedium,
			wantSwitch:   true,
		},
		{
			name:         "queue full",
			err:          errors.New("oracle queue is full, try later"),
			wantType:     ErrTypeQueueFull,
			wantSeverity: flperrors.SeverityMedium,
			wantSwitch:   true,
		},
		{
			name:         "rate limited",
			err:          errors.New("429 too many requests"),
			wantType:     ErrTypeQueueFull,
			wantSeverity: flperrors.SeverityMedium,
			wantSwitch:   true,
		},
		{
			name:         "oracle offline",
			err:          errors.New("oracle not responding"),
			wantType:     ErrTypeOracleOffline,
			wantSeverity: flperrors.SeverityHigh,
			wantSwitch:   true,
			wantEscalate: true,
		},
		{
			name:         "invalid account",
			err:          errors.New("account not found: 9xQeWvG81..."),
			wantType:     ErrTypeAccountInvalid,
			wantSeverity: flperrors.SeverityCritical,
			wantSwitch:   true,
			wantEscalate: true,
		},
		{
			name:         "generic network error",
			err:          errors.New("connection reset by peer"),
			wantType:     ErrTypeNetwork,
			wantSeverity: flperrors.SeverityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyError(tt.err, "oracle-a")
			assert.Equal(t, tt.wantType, c.Type)
			assert.Equal(t, tt.wantSeverity, c.Severity)
			assert.Equal(t, "oracle-a", c.VRFAccount)
			assert.NotEmpty(t, c.SuggestedAction)
			assert.Equal(t, tt.wantSwitch, c.ShouldSwitchOracle())
			assert.Equal(t, tt.wantEscalate, c.ShouldEscalate())
		})
	}
}

func TestClassifyError_Deterministic(t *testing.T) {
	err := errors.New("queue is full")
	first := ClassifyError(err, "oracle-b")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ClassifyError(err, "oracle-b"))
	}
}

func TestClassifyError_NilError(t *testing.T) {
	c := ClassifyError(nil, "oracle-a")
	assert.Equal(t, ErrTypeNetwork, c.Type)
	assert.Equal(t, flperrors.SeverityLow, c.Severity)
}
