package usecase

import "pushtalk/internal/domain"

// NopEventSink discards every notification.
type NopEventSink struct{}

func (NopEventSink) SessionStateChanged(domain.Status)     {}
func (NopEventSink) AudioLevelChanged(float64)             {}
func (NopEventSink) PartialTranscript(string)              {}
func (NopEventSink) FinalTranscript(string, string)        {}
func (NopEventSink) SessionError(domain.ErrorCode, string) {}
