package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keithlinneman/sms-ratelimiter/internal/ratelimit"
)

type fakeSSM struct {
	value *string
	err   error

	gotName    string
	gotDecrypt bool
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.gotName = aws.ToString(in.Name)
	f.gotDecrypt = aws.ToBool(in.WithDecryption)
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: f.value}}, nil
}

func base() Limits {
	return Limits{
		MaxPerNumberPerSecond:      1,
		MaxPerAccountPerSecond:     10,
		InactivityThresholdMinutes: 30,
		CleanupIntervalMinutes:     5,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, base().Validate())

	zeroLimits := base()
	zeroLimits.MaxPerNumberPerSecond = 0
	zeroLimits.MaxPerAccountPerSecond = 0
	assert.NoError(t, zeroLimits.Validate(), "zero limits are valid and deny everything")

	bad := Limits{MaxPerNumberPerSecond: -1, MaxPerAccountPerSecond: -1}
	err := bad.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"max_per_number_per_second",
		"max_per_account_per_second",
		"inactivity_threshold_minutes",
		"cleanup_interval_minutes",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestApply_OnlyPresentFields(t *testing.T) {
	got := Override{MaxPerAccountPerSecond: aws.Int(50)}.Apply(base())
	want := base()
	want.MaxPerAccountPerSecond = 50
	assert.Equal(t, want, got)

	assert.Equal(t, base(), Override{}.Apply(base()))
}

func TestApply_ExplicitZeroWins(t *testing.T) {
	f := &fakeSSM{value: aws.String(`{"max_per_number_per_second": 0}`)}
	o, err := FromSSM(context.Background(), f, "/p")
	require.NoError(t, err)

	got := o.Apply(base())
	assert.Equal(t, 0, got.MaxPerNumberPerSecond, "0 from SSM must replace the flag value")
	assert.Equal(t, base().MaxPerAccountPerSecond, got.MaxPerAccountPerSecond)
	require.NoError(t, got.Validate())

	// zero where zero is out of range is surfaced by Validate, not dropped
	o = Override{CleanupIntervalMinutes: aws.Int(0)}
	assert.ErrorContains(t, o.Apply(base()).Validate(), "cleanup_interval_minutes")
}

func TestEngineConfig(t *testing.T) {
	cfg := base().EngineConfig()
	assert.Equal(t, ratelimit.Config{
		MaxPerNumberPerSecond:  1,
		MaxPerAccountPerSecond: 10,
		InactivityThreshold:    30 * time.Minute,
	}, cfg)
	assert.Equal(t, 5*time.Minute, base().CleanupInterval())
}

func TestFromSSM_Decodes(t *testing.T) {
	f := &fakeSSM{value: aws.String(` {"max_per_number_per_second": 2, "cleanup_interval_minutes": 1} `)}

	got, err := FromSSM(context.Background(), f, "/app/sms-ratelimiter/limits")
	require.NoError(t, err)
	assert.Equal(t, Override{MaxPerNumberPerSecond: aws.Int(2), CleanupIntervalMinutes: aws.Int(1)}, got)
	assert.Equal(t, "/app/sms-ratelimiter/limits", f.gotName)
	assert.True(t, f.gotDecrypt)
}

func TestFromSSM_Errors(t *testing.T) {
	sentinel := errors.New("access denied")

	tests := []struct {
		name   string
		client ParameterGetter
		param  string
		want   string
	}{
		{"nil client", nil, "/p", "ssm client is required"},
		{"empty name", &fakeSSM{}, "", "parameter name is required"},
		{"get fails", &fakeSSM{err: sentinel}, "/p", "get SSM parameter /p"},
		{"no value", &fakeSSM{}, "/p", "has no value"},
		{"blank value", &fakeSSM{value: aws.String("  ")}, "/p", "is empty"},
		{"bad json", &fakeSSM{value: aws.String("{")}, "/p", "decode SSM parameter /p"},
		{"unknown key", &fakeSSM{value: aws.String(`{"max_per_numbr": 1}`)}, "/p", "decode SSM parameter /p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromSSM(context.Background(), tt.client, tt.param)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromSSM_WrapsClientError(t *testing.T) {
	sentinel := errors.New("throttled")
	_, err := FromSSM(context.Background(), &fakeSSM{err: sentinel}, "/p")
	assert.ErrorIs(t, err, sentinel)
}
