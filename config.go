package recoveryflow

import (
	"errors"
	"time"
)

// Config defines a public type used by recoveryflow APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Verification VerificationConfig
	OTPReset     OTPResetConfig
	Cooldown     CooldownConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig defines a public type used by recoveryflow APIs.
//
// VerificationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type VerificationConfig struct {
	// PollInterval paces the out-of-band confirmation watch: the flow checks
	// session state on this cadence until the email is confirmed in another
	// tab. Default 3s.
	PollInterval time.Duration
	// ProgressTick and ProgressStep drive the deterministic success
	// animation: the progress value rises by ProgressStep every ProgressTick
	// until 100. Defaults 100ms / 5 (2 seconds total).
	ProgressTick time.Duration
	ProgressStep int
	// CompleteDelay is the pause between reaching 100 and invoking the
	// completion callback. Default 1s.
	CompleteDelay time.Duration
}

/*
====================================
OTP RESET CONFIG
====================================
*/

// OTPResetConfig defines a public type used by recoveryflow APIs.
//
// OTPResetConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type OTPResetConfig struct {
	// RedirectTarget is passed to the backend's recovery request so resent
	// links land back on the OTP page.
	RedirectTarget string
	// CloseDelay is the pause between a successful credential update and the
	// completion callback. Default 3s.
	CloseDelay time.Duration
}

/*
====================================
COOLDOWN CONFIG
====================================
*/

// CooldownConfig defines a public type used by recoveryflow APIs.
//
// CooldownConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CooldownConfig struct {
	// WindowSeconds gates resend requests. Default 60.
	WindowSeconds int
	// TickInterval defaults to one second. Tests shorten it.
	TickInterval time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by recoveryflow APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by recoveryflow APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Verification: VerificationConfig{
			PollInterval:  3 * time.Second,
			ProgressTick:  100 * time.Millisecond,
			ProgressStep:  5,
			CompleteDelay: time.Second,
		},
		OTPReset: OTPResetConfig{
			CloseDelay: 3 * time.Second,
		},
		Cooldown: CooldownConfig{
			WindowSeconds: 60,
			TickInterval:  time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	// All sections are value types today; the clone exists so Builder callers
	// cannot mutate engine configuration after Build.
	return cfg
}

func validateConfig(cfg Config) error {
	if cfg.Verification.PollInterval <= 0 {
		return errors.New("verification poll interval must be positive")
	}
	if cfg.Verification.ProgressTick <= 0 {
		return errors.New("verification progress tick must be positive")
	}
	if cfg.Verification.ProgressStep <= 0 || cfg.Verification.ProgressStep > 100 {
		return errors.New("verification progress step must be in (0, 100]")
	}
	if cfg.Verification.CompleteDelay < 0 {
		return errors.New("verification complete delay must not be negative")
	}
	if cfg.OTPReset.CloseDelay < 0 {
		return errors.New("otp reset close delay must not be negative")
	}
	if cfg.Cooldown.WindowSeconds <= 0 {
		return errors.New("cooldown window must be positive")
	}
	if cfg.Cooldown.TickInterval <= 0 {
		return errors.New("cooldown tick interval must be positive")
	}
	if cfg.Audit.Enabled && cfg.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive when audit is enabled")
	}
	return nil
}
