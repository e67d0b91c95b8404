package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"quiz-proctor/internal/domain"
)

// Narrator reads the current question aloud. Once the speaker reports it is unavailable,
// narration is disabled for the rest of the attempt and the quiz carries on.
type Narrator struct {
	speaker Speaker
	log     zerolog.Logger

	mu       sync.Mutex
	disabled bool
}

func NewNarrator(speaker Speaker, log zerolog.Logger) *Narrator {
	return &Narrator{speaker: speaker, log: log, disabled: speaker == nil}
}

func (n *Narrator) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.disabled
}

// Read cancels any utterance in progress and speaks q.
func (n *Narrator) Read(ctx context.Context, q domain.Question) error {
	if !n.Enabled() {
		return domain.ErrSpeechUnavailable
	}
	n.speaker.Cancel()
	err := n.speaker.Speak(ctx, narration(q))
	if errors.Is(err, domain.ErrSpeechUnavailable) {
		n.mu.Lock()
		n.disabled = true
		n.mu.Unlock()
		n.log.Info().Msg("speech unavailable, narration disabled")
	}
	return err
}

func (n *Narrator) Stop() {
	if n.Enabled() {
		n.speaker.Cancel()
	}
}

func narration(q domain.Question) string {
	var b strings.Builder
	b.WriteString(q.Text)
	for i, opt := range q.Options {
		fmt.Fprintf(&b, " Option %d: %s.", i+1, opt)
	}
	return b.String()
}
