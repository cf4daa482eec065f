package bot

import (
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"
)

// ChatAllowed reports whether an update from chat should be handled. The bot
// only answers in its announcement chat and in private chats.
func ChatAllowed(chat *tele.Chat, announceChat int64) bool {
	if chat == nil {
		return false
	}
	return chat.Type == tele.ChatPrivate || chat.ID == announceChat
}

// ChatMiddleware drops updates from chats other than the announcement chat.
func ChatMiddleware(announceChat int64) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if !ChatAllowed(chat, announceChat) {
				if chat != nil {
					log.Debug().
						Int64("chat_id", chat.ID).
						Msg("Ignoring command from foreign chat")
				}
				return nil
			}
			return next(c)
		}
	}
}

// LoggingMiddleware creates a middleware that logs all incoming messages.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			chat := c.Chat()

			logEvent := log.Debug()
			if sender != nil {
				logEvent = logEvent.
					Int64("user_id", sender.ID).
					Str("username", sender.Username)
			}
			if chat != nil {
				logEvent = logEvent.
					Int64("chat_id", chat.ID).
					Str("chat_type", string(chat.Type))
			}
			logEvent.
				Str("text", c.Text()).
				Msg("Received message")

			return next(c)
		}
	}
}

// RecoveryMiddleware creates a middleware that recovers from panics.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Msg("Recovered from panic in handler")
					err = c.Reply("Internal error, please try again later")
				}
			}()
			return next(c)
		}
	}
}
