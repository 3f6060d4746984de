// Package avatar derives what the synthetic counterpart looks like from the
// turn state and the playing utterance.
//
// The visual state is never stored: [Project] computes the base pose and
// mouth phase from (state, utterance, playback position). A [Driver] layers
// the transient animation on top (blinks, breathing) and resolves assets.
package avatar

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/voxpersona/voxpersona/internal/turn"
)

// ErrAssetLoad is reported, never returned, when a pose asset cannot be
// loaded. The driver falls back to the idle pose.
var ErrAssetLoad = errors.New("avatar: asset load failed")

// Pose is the base image of the avatar.
type Pose int

const (
	PoseIdle Pose = iota
	PoseTalking
	PoseTalkingLong
)

// String returns the pose name.
func (p Pose) String() string {
	switch p {
	case PoseTalking:
		return "talking"
	case PoseTalkingLong:
		return "talking_long"
	default:
		return "idle"
	}
}

// Assets names the image for each pose.
type Assets struct {
	Idle        string
	Talking     string
	TalkingLong string
}

// For returns the asset of p.
func (a Assets) For(p Pose) string {
	switch p {
	case PoseTalking:
		return a.Talking
	case PoseTalkingLong:
		return a.TalkingLong
	default:
		return a.Idle
	}
}

// Policy holds the tunable animation constants.
type Policy struct {
	// LongFormWords is the word count above which the long talking pose is
	// used.
	LongFormWords int

	BlinkInterval time.Duration
	BlinkJitter   time.Duration
	BlinkDuration time.Duration

	// SpeechRate is the assumed words per second when the audio length is
	// unknown.
	SpeechRate float64
	MouthMin   time.Duration
	MouthMax   time.Duration

	Assets Assets
}

// DefaultPolicy matches the stock avatar assets.
func DefaultPolicy() Policy {
	return Policy{
		LongFormWords: 10,
		BlinkInterval: 2 * time.Second,
		BlinkJitter:   time.Second,
		BlinkDuration: 150 * time.Millisecond,
		SpeechRate:    2.5,
		MouthMin:      80 * time.Millisecond,
		MouthMax:      250 * time.Millisecond,
		Assets: Assets{
			Idle:        "idle_avatar.png",
			Talking:     "talking.gif",
			TalkingLong: "talking_long.gif",
		},
	}
}

// Utterance is the reply being spoken. Its pose and mouth rate are fixed
// when it begins.
type Utterance struct {
	Text          string
	Words         int
	Pose          Pose
	MouthInterval time.Duration
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// ClassifyUtterance picks the talking pose for text.
func ClassifyUtterance(text string, longFormWords int) Pose {
	if CountWords(text) > longFormWords {
		return PoseTalkingLong
	}
	return PoseTalking
}

// MouthInterval is how long the mouth stays in each phase: half a word at
// the utterance's speaking rate, clamped to [p.MouthMin, p.MouthMax]. The
// rate comes from duration when known, otherwise p.SpeechRate.
func MouthInterval(words int, duration time.Duration, p Policy) time.Duration {
	wps := p.SpeechRate
	if duration > 0 && words > 0 {
		wps = float64(words) / duration.Seconds()
	}
	if wps <= 0 {
		return p.MouthMax
	}
	d := time.Duration(float64(time.Second) / (2 * wps))
	return min(max(d, p.MouthMin), p.MouthMax)
}

// NewUtterance fixes the pose and mouth rate of text.
func NewUtterance(text string, duration time.Duration, p Policy) Utterance {
	words := CountWords(text)
	return Utterance{
		Text:          text,
		Words:         words,
		Pose:          ClassifyUtterance(text, p.LongFormWords),
		MouthInterval: MouthInterval(words, duration, p),
	}
}

// Frame is one rendered avatar state.
type Frame struct {
	Pose       Pose    `json:"-"`
	PoseName   string  `json:"pose"`
	Asset      string  `json:"asset"`
	MouthOpen  bool    `json:"mouth_open"`
	EyesClosed bool    `json:"eyes_closed"`
	Listening  bool    `json:"listening"`
	Speaking   bool    `json:"speaking"`
	Scale      float64 `json:"scale"`
	Status     string  `json:"status"`
	Badge      string  `json:"badge,omitempty"`
	AssetError bool    `json:"asset_error,omitempty"`
}

// Status lines.
const (
	StatusSpeaking  = "Speaking..."
	StatusListening = "Listening..."
	StatusReady     = "Ready to chat"
)

// Project computes the base frame. u may be nil; elapsed is the playback
// position of u. The result depends on nothing else.
func Project(state turn.State, u *Utterance, elapsed time.Duration) Frame {
	f := Frame{Pose: PoseIdle, Scale: 1, Status: StatusReady}
	switch state {
	case turn.Listening:
		f.Listening = true
		f.Status = StatusListening
	case turn.Speaking:
		f.Speaking = true
		f.Status = StatusSpeaking
		if u != nil {
			f.Pose = u.Pose
			if u.MouthInterval > 0 && elapsed > 0 {
				f.MouthOpen = (elapsed/u.MouthInterval)%2 == 1
			}
		}
	}
	f.PoseName = f.Pose.String()
	return f
}

// Breathing is the idle scale at t since the avatar appeared.
func Breathing(t time.Duration) float64 {
	return 1 + math.Sin(1.5*t.Seconds())*0.02
}
