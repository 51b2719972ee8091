package eventhandler

import (
	"time"

	"github.com/classpulse/classpulse/internal/domain/session"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/logger"
)

// SessionChangeForwarder returns a session listener that republishes every
// change as a SessionChangedEvent. Values are not forwarded, only keys.
func SessionChangeForwarder(pub shared.EventPublisher, now func() time.Time, log *logger.Logger) session.Listener {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return func(c session.Change) {
		event := shared.NewSessionChangedEvent(c.SessionID, c.Key, c.Deleted, now())
		if err := pub.Publish(event); err != nil {
			log.Warn("failed to forward session change",
				logger.String("session_id", c.SessionID),
				logger.String("key", c.Key),
				logger.Err(err),
			)
		}
	}
}
