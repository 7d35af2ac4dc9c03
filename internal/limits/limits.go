// Package limits holds the rate limit values the process starts with and
// loads optional overrides for them from an SSM parameter.
//
// The parameter value is a JSON object with snake_case keys:
//
//	{"max_per_number_per_second": 1, "max_per_account_per_second": 30}
//
// Absent keys keep the value from flags/env. A key that is present always
// wins, including an explicit 0, which for the two per-second limits means
// deny everything.
package limits

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/sms-ratelimiter/internal/ratelimit"
	"github.com/keithlinneman/sms-ratelimiter/internal/xerrors"
)

// Limits are the engine and sweeper settings.
type Limits struct {
	MaxPerNumberPerSecond      int `json:"max_per_number_per_second"`
	MaxPerAccountPerSecond     int `json:"max_per_account_per_second"`
	InactivityThresholdMinutes int `json:"inactivity_threshold_minutes"`
	CleanupIntervalMinutes     int `json:"cleanup_interval_minutes"`
}

// Validate checks ranges and returns every problem at once.
func (l Limits) Validate() error {
	var errs []error
	if l.MaxPerNumberPerSecond < 0 {
		errs = append(errs, xerrors.Newf("max_per_number_per_second must be >= 0 (got %d)", l.MaxPerNumberPerSecond))
	}
	if l.MaxPerAccountPerSecond < 0 {
		errs = append(errs, xerrors.Newf("max_per_account_per_second must be >= 0 (got %d)", l.MaxPerAccountPerSecond))
	}
	if l.InactivityThresholdMinutes <= 0 {
		errs = append(errs, xerrors.Newf("inactivity_threshold_minutes must be > 0 (got %d)", l.InactivityThresholdMinutes))
	}
	if l.CleanupIntervalMinutes <= 0 {
		errs = append(errs, xerrors.Newf("cleanup_interval_minutes must be > 0 (got %d)", l.CleanupIntervalMinutes))
	}
	return xerrors.Join(errs...)
}

// Override is the decoded SSM parameter. A nil field was absent from the JSON.
type Override struct {
	MaxPerNumberPerSecond      *int `json:"max_per_number_per_second"`
	MaxPerAccountPerSecond     *int `json:"max_per_account_per_second"`
	InactivityThresholdMinutes *int `json:"inactivity_threshold_minutes"`
	CleanupIntervalMinutes     *int `json:"cleanup_interval_minutes"`
}

// Apply returns base with every field present in o laid over it.
func (o Override) Apply(base Limits) Limits {
	out := base
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&out.MaxPerNumberPerSecond, o.MaxPerNumberPerSecond)
	set(&out.MaxPerAccountPerSecond, o.MaxPerAccountPerSecond)
	set(&out.InactivityThresholdMinutes, o.InactivityThresholdMinutes)
	set(&out.CleanupIntervalMinutes, o.CleanupIntervalMinutes)
	return out
}

func (l Limits) EngineConfig() ratelimit.Config {
	return ratelimit.Config{
		MaxPerNumberPerSecond:  l.MaxPerNumberPerSecond,
		MaxPerAccountPerSecond: l.MaxPerAccountPerSecond,
		InactivityThreshold:    time.Duration(l.InactivityThresholdMinutes) * time.Minute,
	}
}

func (l Limits) CleanupInterval() time.Duration {
	return time.Duration(l.CleanupIntervalMinutes) * time.Minute
}

// ParameterGetter is the subset of *ssm.Client used here.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// NewSSMClient builds an SSM client from awsCfg, or from the default
// credential chain when awsCfg is nil.
func NewSSMClient(ctx context.Context, awsCfg *aws.Config) (*ssm.Client, error) {
	if awsCfg != nil {
		return ssm.NewFromConfig(*awsCfg), nil
	}
	c, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	return ssm.NewFromConfig(c), nil
}

// FromSSM reads and decodes the override parameter. Unknown keys are rejected
// so a typo does not silently leave a limit at its default.
func FromSSM(ctx context.Context, client ParameterGetter, name string) (Override, error) {
	if client == nil {
		return Override{}, xerrors.New("ssm client is required")
	}
	if name == "" {
		return Override{}, xerrors.New("ssm parameter name is required")
	}

	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return Override{}, xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return Override{}, xerrors.Newf("SSM parameter %s has no value", name)
	}

	raw := strings.TrimSpace(*out.Parameter.Value)
	if raw == "" {
		return Override{}, xerrors.Newf("SSM parameter %s is empty", name)
	}

	var o Override
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return Override{}, xerrors.Wrapf(err, "decode SSM parameter %s", name)
	}
	return o, nil
}
