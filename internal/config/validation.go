package config

import (
	"fmt"
	"math"
	"os"
)

// weightSumTolerance absorbs float rounding when checking the weights.
const weightSumTolerance = 1e-9

// Validate checks the configuration for consistency. It is called once at
// startup; any error here is fatal.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (must be one of: gemini, openai, ollama)", ErrInvalidProvider, c.Provider)
	}

	if err := c.validateCredentials(); err != nil {
		return err
	}

	if c.DirectWeight < 0 || c.CategoryWeight < 0 {
		return fmt.Errorf("%w: weights must be non-negative", ErrInvalidWeights)
	}
	if math.Abs(c.DirectWeight+c.CategoryWeight-1) > weightSumTolerance {
		return fmt.Errorf("%w: direct_weight (%v) + category_weight (%v) must equal 1",
			ErrInvalidWeights, c.DirectWeight, c.CategoryWeight)
	}

	if c.SearchThreshold < -1 || c.SearchThreshold > 1 {
		return fmt.Errorf("%w: search_threshold %v outside [-1, 1]", ErrInvalidThreshold, c.SearchThreshold)
	}
	if c.QualityFloor < -1 || c.QualityFloor > 1 {
		return fmt.Errorf("%w: quality_floor %v outside [-1, 1]", ErrInvalidQualityBounds, c.QualityFloor)
	}
	if c.QualityGap < 0 || c.QualityGap > 2 {
		return fmt.Errorf("%w: quality_gap %v outside [0, 2]", ErrInvalidQualityBounds, c.QualityGap)
	}
	if c.DisplayLimit <= 0 {
		return fmt.Errorf("%w: display_limit must be positive", ErrInvalidQualityBounds)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request_timeout must be positive", ErrInvalidTimeout)
	}
	if c.LockTimeout <= 0 || c.LockPollInterval <= 0 {
		return fmt.Errorf("%w: lock_timeout and lock_poll_interval must be positive", ErrInvalidTimeout)
	}
	if c.LockPollInterval >= c.LockTimeout {
		return fmt.Errorf("%w: lock_poll_interval must be shorter than lock_timeout", ErrInvalidTimeout)
	}

	if c.CorpusPath == "" {
		return ErrMissingCorpusPath
	}

	return nil
}

// validateCredentials ensures the API key for the chosen provider is present.
// Genkit plugins read these variables themselves; checking here turns a
// confusing first-request failure into a clear startup error.
func (c *Config) validateCredentials() error {
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("%w: set GEMINI_API_KEY for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: set OPENAI_API_KEY for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		// Local server, no credentials.
	}
	return nil
}
