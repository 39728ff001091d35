package pipeline

import (
	"errors"
	"time"

	"github.com/danmuck/telemlink/internal/logging"
	"github.com/danmuck/telemlink/internal/observability"
	"github.com/danmuck/telemlink/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ValidatorConfig selects the policy for one ingest path.
type ValidatorConfig struct {
	Path string
	// DropInvalidCRC rejects messages that fail the crc check. Off by
	// default: corrupted but parseable data is forwarded with a warning.
	DropInvalidCRC bool
}

// Validator applies length and crc checks. Messages shorter than tag plus
// trailer are always rejected.
type Validator struct {
	cfg ValidatorConfig
	log zerolog.Logger
}

func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.Path == "" {
		cfg.Path = PathSerial
	}
	return &Validator{
		cfg: cfg,
		log: logging.Sampled(log.Logger, 10, time.Second),
	}
}

// Check reports whether msg may continue and the validation error, if any.
// A crc failure returns keep=true unless DropInvalidCRC is set.
func (v *Validator) Check(msg protocol.Message) (keep bool, err error) {
	err = msg.Validate()
	switch {
	case err == nil:
		observability.RecordMessage(v.cfg.Path, "ok")
		return true, nil
	case errors.Is(err, protocol.ErrMessageTooShort):
		observability.RecordMessage(v.cfg.Path, "short")
		v.log.Warn().Str("path", v.cfg.Path).Hex("raw", msg).Err(err).Msg("pipeline.Validator.Check dropped short message")
		return false, err
	default:
		observability.RecordMessage(v.cfg.Path, "crc")
		v.log.Warn().Str("path", v.cfg.Path).Hex("raw", msg).Bool("dropped", v.cfg.DropInvalidCRC).
			Msg("pipeline.Validator.Check message failed crc check")
		return !v.cfg.DropInvalidCRC, err
	}
}
