package intent

import (
	"context"
	"log"
	"time"
)

// Event is what the avatar front end receives for every dialogue reply.
type Event struct {
	TurnID  string    `json:"turn_id"`
	Intent  string    `json:"intent"`
	Reply   string    `json:"reply"`
	Gesture string    `json:"gesture,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher forwards intents to the avatar.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// gestures maps assistant intents to avatar animation triggers.
var gestures = map[string]string{
	"General_Greetings": "wave",
	"General_Ending":    "wave",
}

// GestureFor returns the animation trigger for an intent, or "".
func GestureFor(intent string) string { return gestures[intent] }

// Log writes intents to the process log.
type Log struct{}

func (Log) Publish(_ context.Context, evt Event) error {
	log.Printf("[intent] turn=%s intent=%q gesture=%q", evt.TurnID, evt.Intent, evt.Gesture)
	metricPublished.WithLabelValues("log", "ok").Inc()
	return nil
}
