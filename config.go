package hooks

import "time"

// Config holds engine options
type Config interface {
	GetMaxPoolSize() int
	GetAcquireTimeout() time.Duration
	GetScriptTimeout() time.Duration
	GetSpanTruncateBytes() int
	GetRetentionWindow() time.Duration
}

const (
	DefaultMaxPoolSize       = 8
	DefaultAcquireTimeout    = 5 * time.Second
	DefaultScriptTimeout     = 2 * time.Second
	DefaultSpanTruncateBytes = 4096
	DefaultRetentionWindow   = 30 * 24 * time.Hour
)

// SimpleConfig implements Config with zero-value fallbacks to the defaults.
type SimpleConfig struct {
	MaxPoolSize       int
	AcquireTimeout    time.Duration
	ScriptTimeout     time.Duration
	SpanTruncateBytes int
	RetentionWindow   time.Duration
}

var _ Config = (*SimpleConfig)(nil)

func (c *SimpleConfig) GetMaxPoolSize() int {
	if c == nil || c.MaxPoolSize <= 0 {
		return DefaultMaxPoolSize
	}
	return c.MaxPoolSize
}

func (c *SimpleConfig) GetAcquireTimeout() time.Duration {
	if c == nil || c.AcquireTimeout <= 0 {
		return DefaultAcquireTimeout
	}
	return c.AcquireTimeout
}

func (c *SimpleConfig) GetScriptTimeout() time.Duration {
	if c == nil || c.ScriptTimeout <= 0 {
		return DefaultScriptTimeout
	}
	return c.ScriptTimeout
}

func (c *SimpleConfig) GetSpanTruncateBytes() int {
	if c == nil || c.SpanTruncateBytes <= 0 {
		return DefaultSpanTruncateBytes
	}
	return c.SpanTruncateBytes
}

func (c *SimpleConfig) GetRetentionWindow() time.Duration {
	if c == nil || c.RetentionWindow <= 0 {
		return DefaultRetentionWindow
	}
	return c.RetentionWindow
}

// DefaultConfig returns a config using every default value.
func DefaultConfig() Config {
	return &SimpleConfig{}
}
