package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Missing provider credentials are not a config error: they surface when a
// model of that provider is requested.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateAuth(cfg, ve)
	validateRateLimit(cfg, ve)
	validateConversation(cfg, ve)
	validateModels(cfg, ve)
	validateLLM(cfg, ve)
	validateVoice(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr is required")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is not a valid host:port", cfg.Server.Addr)
	}
	if cfg.Server.SendQueueSize <= 0 {
		ve.Add("server.send_queue_size must be > 0")
	}
	if cfg.Server.WriteTimeout <= 0 {
		ve.Add("server.write_timeout must be > 0")
	}
}

func validateAuth(cfg *Config, ve *ValidationError) {
	switch cfg.Auth.Type {
	case "":
	case "static":
		if len(cfg.Auth.Tokens) == 0 {
			ve.Add("auth.tokens must not be empty when auth.type is static")
		}
		for i, tok := range cfg.Auth.Tokens {
			if tok.Token == "" {
				ve.Add("auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("auth.type %q is invalid (want: static or empty)", cfg.Auth.Type)
	}
}

func validateRateLimit(cfg *Config, ve *ValidationError) {
	if !cfg.RateLimit.Enabled {
		return
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		ve.Add("rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
	}
	if cfg.RateLimit.Burst <= 0 {
		ve.Add("rate_limit.burst must be > 0 when rate limiting is enabled")
	}
}

func validateConversation(cfg *Config, ve *ValidationError) {
	c := cfg.Conversation
	if c.DefaultRounds <= 0 {
		ve.Add("conversation.default_rounds must be > 0")
	}
	if c.BatchSize <= 0 {
		ve.Add("conversation.batch_size must be > 0")
	}
	if c.MaxResponseLength <= 0 {
		ve.Add("conversation.max_response_length must be > 0")
	}
	if c.ContextWindow <= 0 {
		ve.Add("conversation.context_window must be > 0")
	}
	if c.TurnTimeout <= 0 {
		ve.Add("conversation.turn_timeout must be > 0")
	}
	if c.SessionTTL < 0 {
		ve.Add("conversation.session_ttl must be >= 0")
	}
	if c.SessionTTL > 0 && c.ReapSchedule == "" {
		ve.Add("conversation.reap_schedule is required when session_ttl is set")
	}
}

var validProviderNames = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"deepseek":  true,
	"llama":     true,
	"mixtral":   true,
}

func validateModels(cfg *Config, ve *ValidationError) {
	if len(cfg.Models.Providers) == 0 {
		ve.Add("models.providers must not be empty")
		return
	}

	seenProvider := make(map[string]bool)
	seenModel := make(map[string]string)
	for i, p := range cfg.Models.Providers {
		if !validProviderNames[p.Name] {
			ve.Add("models.providers[%d].name %q is invalid (want: openai, anthropic, deepseek, llama, mixtral)", i, p.Name)
			continue
		}
		if seenProvider[p.Name] {
			ve.Add("models.providers[%d]: duplicate provider %q", i, p.Name)
		}
		seenProvider[p.Name] = true

		for _, m := range p.Models {
			if m == "" {
				ve.Add("models.providers[%d] (%s): empty model id", i, p.Name)
				continue
			}
			if owner, dup := seenModel[m]; dup {
				ve.Add("models.providers[%d] (%s): model %q already served by %s", i, p.Name, m, owner)
				continue
			}
			seenModel[m] = p.Name
		}
	}

	if cfg.Models.Default == "" {
		ve.Add("models.default must not be empty")
	} else if _, ok := seenModel[cfg.Models.Default]; !ok {
		ve.Add("models.default %q does not match any configured model", cfg.Models.Default)
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.MaxTokens <= 0 {
		ve.Add("llm.max_tokens must be > 0")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		ve.Add("llm.temperature must be within [0, 2]")
	}
	cb := cfg.LLM.CircuitBreaker
	if cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cb.Timeout <= 0 {
			ve.Add("llm.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

func validateVoice(cfg *Config, ve *ValidationError) {
	if !cfg.Voice.Enabled {
		return
	}
	if cfg.Voice.Model == "" {
		ve.Add("voice.model must not be empty when voice is enabled")
	}
	if cfg.Voice.MaxAudioBytes <= 0 {
		ve.Add("voice.max_audio_bytes must be > 0 when voice is enabled")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" && cfg.Logger.Format != "json" {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}
