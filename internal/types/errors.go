package types

import (
	"errors"
	"fmt"
)

var (
	ErrScriptGenerationFailed = errors.New("script generation failed")
	ErrNarrationFailed        = errors.New("narration failed")
	ErrDecodeFailed           = errors.New("media decode failed")
	ErrNoUsableFootage        = errors.New("no usable footage")
	ErrFootageExhausted       = errors.New("footage exhausted")
	ErrEffectAssetMissing     = errors.New("effect asset missing")
	ErrMixFailed              = errors.New("audio mix failed")
	ErrEncodeFailed           = errors.New("encode failed")
)

type Stage string

const (
	StageScript    Stage = "script"
	StageNarration Stage = "narration"
	StageDecode    Stage = "decode"
	StageTimeline  Stage = "timeline"
	StageMix       Stage = "mix"
	StageEncode    Stage = "encode"
)

// StageError ties a failure to the pipeline stage that produced it.
// errors.Is matches both the stage sentinel and the underlying cause.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func NewStageError(stage Stage, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
