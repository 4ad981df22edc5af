// Package feedback announces operation milestones to a nearby operator.
// The daemon itself has no speaker; implementations forward to whatever
// the host offers, and the no-op variants keep headless deployments quiet.
package feedback

import "log"

// TextToSpeech speaks a short phrase. Speak must not block on playback.
type TextToSpeech interface {
	Speak(phrase string)
}

// ToneGenerator plays a named cue tone (for example "ok" or "abort").
type ToneGenerator interface {
	Tone(name string)
}

// Silent discards all feedback.
type Silent struct{}

func (Silent) Speak(phrase string) {}
func (Silent) Tone(name string)    {}

// Logged writes feedback to the process log instead of audio hardware.
type Logged struct{}

func (Logged) Speak(phrase string) { log.Printf("[Feedback] 🗣  %s", phrase) }
func (Logged) Tone(name string)    { log.Printf("[Feedback] 🔔 %s", name) }
