package pricer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	tele "gopkg.in/telebot.v4"
)

const handlerTimeout = 30 * time.Second

// handle wraps a handler with panic recovery, account resolution, the
// channel-membership gate and the user-facing error mapping. Every update
// goes through here, so the account's idle clock is always fresh.
func (b *Bot) handle(endpoint any, gated bool, h func(tele.Context, *Account) error) {
	b.bot.Handle(endpoint, func(c tele.Context) (err error) {
		defer lang.RecoverWithErrAndStack(AdaptLogger(b.log), &err)

		mtr.updatesTotal.Inc()
		started := time.Now()
		defer func() {
			mtr.handlerDuration.Observe(time.Since(started).Seconds())
		}()

		sender := c.Sender()
		if sender == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		acc, err := b.sessions.Get(ctx, sender.ID)
		if err != nil {
			mtr.handlerErrors.WithLabelValues("session").Inc()
			b.log.Error(err, "cannot resolve account", "chat_id", sender.ID)
			return c.Send(textFor(DefaultLanguage, msgSomethingWrong))
		}
		acc.UpdateIdentity(sender.Username, sender.FirstName)

		if gated && !b.isMemberOfRequiredChannels(sender) {
			return c.Send(msg(acc, msgJoinChannels) + strings.Join(b.cfg.RequiredChannels, ", "))
		}

		return b.replyError(c, acc, h(c, acc))
	})
}

// replyError maps the error taxonomy to a reply in the user's language.
// Unknown errors are logged and answered generically.
func (b *Bot) replyError(c tele.Context, acc *Account, err error) error {
	if err != nil {
		mtr.handlerErrors.WithLabelValues(errorKind(err)).Inc()
	}

	switch {
	case err == nil:
		return nil
	case errm.Is(err, ErrUnauthorized):
		return c.Send(msg(acc, msgNotAllowed))
	case errm.Is(err, ErrSelectionLimit):
		return c.Send(msg(acc, msgSelectionLimit) +
			" (" + strconv.Itoa(MaxSelectionInDesiredOnes) + ")")
	case errm.Is(err, ErrNoLatestData):
		return c.Send(msg(acc, msgNoPrices))
	case errm.Is(err, ErrInvalidInput):
		return c.Send(msg(acc, msgBadInput))
	case errm.Is(err, ErrAlreadyRunning):
		return c.Send(msg(acc, msgAlreadyPosting))
	case IsBlockedError(err):
		b.log.Info("bot is blocked, leaving session to the collector", "chat_id", acc.ChatID())
		return nil
	}

	b.log.Error(err, "handler error", "chat_id", acc.ChatID(), "state", acc.State().String())
	return c.Send(msg(acc, msgSomethingWrong))
}

// resolveRequiredChannels caches the chat ids of the membership-gate
// channels. A channel that cannot be resolved is skipped with a log, so a
// misconfigured gate never locks everyone out.
func (b *Bot) resolveRequiredChannels() {
	for _, name := range b.cfg.RequiredChannels {
		chat, err := b.bot.ChatByUsername(name)
		if err != nil {
			b.log.Warn("cannot resolve required channel", "channel", name, "error", err.Error())
			continue
		}
		b.requiredChats.Set(name, chat.ID)
	}
}

func (b *Bot) isMemberOfRequiredChannels(user *tele.User) bool {
	ok := true
	b.requiredChats.Range(func(name string, chatID int64) bool {
		member, err := b.bot.ChatMemberOf(tele.ChatID(chatID), user)
		if err != nil {
			b.log.Warn("cannot check membership", "channel", name, "error", err.Error())
			return true
		}
		if member.Role == tele.Left || member.Role == tele.Kicked {
			ok = false
			return false
		}
		return true
	})
	return ok
}
