// Package router turns inbound chat messages into calls on the
// conversation, ride, and rating layers. Commands are matched in a fixed
// priority order so a message is consumed by exactly one handler.
package router

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/example/moto-dispatch/internal/conversation"
	"github.com/example/moto-dispatch/internal/i18n"
	"github.com/example/moto-dispatch/internal/identity"
	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/observability"
	"github.com/example/moto-dispatch/internal/rating"
	"github.com/example/moto-dispatch/internal/ride"
	"github.com/example/moto-dispatch/internal/storage"
	"github.com/example/moto-dispatch/internal/transport"
)

var (
	acceptRe  = regexp.MustCompile(`(?i)^aceitar(?:\s+corrida)?\s+(\d+)$`)
	cancelRe  = regexp.MustCompile(`(?i)^cancel(?:ar)?(?:\s+(?:ride|corrida))?\s+(\d+)$`)
	rateRe    = regexp.MustCompile(`(?i)^(?:avaliar|rate)\s+(\d+)$`)
	historyRe = regexp.MustCompile(`(?i)^(?:my rides|minhas corridas)$`)
	numberRe  = regexp.MustCompile(`^\d+$`)
)

// Router implements transport.Handler.
type Router struct {
	store    storage.Store
	resolver *identity.Resolver
	convs    *conversation.Manager
	rides    *ride.Manager
	ratings  *rating.Engine
	msgr     transport.Messenger
	logger   *slog.Logger
}

func New(store storage.Store, resolver *identity.Resolver, convs *conversation.Manager,
	rides *ride.Manager, ratings *rating.Engine, msgr transport.Messenger, logger *slog.Logger) *Router {
	return &Router{
		store:    store,
		resolver: resolver,
		convs:    convs,
		rides:    rides,
		ratings:  ratings,
		msgr:     msgr,
		logger:   logger,
	}
}

// HandleInbound routes one message. Order matters: the CPF sub-flow owns
// every reply from its sender, lifecycle commands beat session input so a
// driver who is also mid-conversation can still act on a ride, and the
// request triggers beat continuation so a passenger can always start over.
func (rt *Router) HandleInbound(ctx context.Context, msg transport.Inbound) {
	text := strings.TrimSpace(msg.Text)
	logger := rt.logger.With("sender", msg.Sender)

	cs, err := rt.store.GetConversation(ctx, msg.Sender)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Error("session lookup failed", "error", err)
		return
	}
	active := err == nil && cs.IsActive

	if active && cs.State == models.StateAwaitingCPFConfirmation {
		if err := rt.convs.Continue(ctx, cs, msg); err != nil {
			logger.Error("cpf reply failed", "error", err)
		}
		return
	}

	if m := cancelRe.FindStringSubmatch(text); m != nil {
		rt.handleCancel(ctx, msg.Sender, mustID(m[1]), logger)
		return
	}
	if m := rateRe.FindStringSubmatch(text); m != nil {
		score, _ := strconv.Atoi(m[1])
		rt.handleRate(ctx, msg.Sender, score, logger)
		return
	}
	if m := acceptRe.FindStringSubmatch(text); m != nil {
		rt.handleAccept(ctx, msg.Sender, mustID(m[1]), logger)
		return
	}
	if historyRe.MatchString(text) {
		rt.handleHistory(ctx, msg.Sender, logger)
		return
	}

	// a bare number outside any session is a shorthand ride acceptance
	if !active && numberRe.MatchString(text) {
		if rt.handleBareNumber(ctx, msg.Sender, mustID(text), logger) {
			return
		}
	}

	if trigger, testMode := requestTrigger(text); trigger {
		user, err := rt.resolver.ResolveUser(ctx, msg.Sender)
		if err != nil {
			logger.Error("passenger lookup failed", "error", err)
			return
		}
		if err := rt.convs.Start(ctx, msg.Sender, user, testMode); err != nil {
			logger.Error("session start failed", "error", err)
		}
		return
	}

	if active {
		if err := rt.convs.Continue(ctx, cs, msg); err != nil {
			logger.Error("session continue failed", "state", cs.State, "error", err)
		}
		return
	}

	logger.Debug("unroutable message ignored", "text_len", len(text))
}

// handleCancel resolves the user-cancel path first: a sender registered as
// both passenger and driver cancelling their own ride is acting as the
// passenger. The driver path is the fallback for everyone else.
func (rt *Router) handleCancel(ctx context.Context, sender string, rideID int64, logger *slog.Logger) {
	user, err := rt.resolver.ResolveUser(ctx, sender)
	if err != nil {
		logger.Error("passenger lookup failed", "error", err)
		return
	}
	if user != nil && rt.ownsRide(ctx, user, rideID) {
		if err := rt.rides.CancelByUser(ctx, user, rideID); err != nil {
			logger.Error("user cancel failed", "ride_id", rideID, "error", err)
		}
		return
	}
	driver, err := rt.resolver.ResolveDriver(ctx, sender)
	if err != nil {
		logger.Error("driver lookup failed", "error", err)
		return
	}
	if driver != nil {
		if err := rt.rides.CancelByDriver(ctx, driver, rideID); err != nil {
			logger.Error("driver cancel failed", "ride_id", rideID, "error", err)
		}
		return
	}
	if user != nil {
		// a passenger cancelling a ride that is not theirs gets the
		// ownership reply from the lifecycle layer
		if err := rt.rides.CancelByUser(ctx, user, rideID); err != nil {
			logger.Error("user cancel failed", "ride_id", rideID, "error", err)
		}
		return
	}
	rt.reply(ctx, sender, i18n.For(models.LangPortuguese).RideNotFound)
}

func (rt *Router) ownsRide(ctx context.Context, user *models.User, rideID int64) bool {
	r, err := rt.store.GetRide(ctx, rideID)
	return err == nil && r.UserID == user.ID
}

func (rt *Router) handleRate(ctx context.Context, sender string, score int, logger *slog.Logger) {
	lang := rt.senderLanguage(ctx, sender)
	msgs := i18n.For(lang)
	if score < 1 || score > 5 {
		rt.reply(ctx, sender, msgs.RatingInvalid)
		return
	}

	driver, err := rt.resolver.ResolveDriver(ctx, sender)
	if err != nil {
		logger.Error("driver lookup failed", "error", err)
		return
	}
	if driver != nil {
		err = rt.ratings.SubmitFromDriver(ctx, driver, score)
	} else {
		var user *models.User
		user, err = rt.resolver.ResolveUser(ctx, sender)
		if err != nil {
			logger.Error("passenger lookup failed", "error", err)
			return
		}
		if user == nil {
			rt.reply(ctx, sender, msgs.RatingNothingOpen)
			return
		}
		err = rt.ratings.SubmitFromUser(ctx, user, score)
	}
	switch {
	case err == nil:
		rt.reply(ctx, sender, msgs.RatingThanks)
	case errors.Is(err, rating.ErrNothingToRate):
		rt.reply(ctx, sender, msgs.RatingNothingOpen)
	default:
		logger.Error("rating failed", "error", err)
	}
}

func (rt *Router) handleAccept(ctx context.Context, sender string, rideID int64, logger *slog.Logger) {
	driver, err := rt.resolver.ResolveDriver(ctx, sender)
	if err != nil {
		logger.Error("driver lookup failed", "error", err)
		return
	}
	if driver != nil {
		if err := rt.rides.Accept(ctx, driver, rideID); err != nil {
			logger.Error("accept failed", "ride_id", rideID, "error", err)
		}
		return
	}
	// unknown sender accepting a ride: offer the CPF re-link path
	if _, err := rt.store.GetRide(ctx, rideID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Error("ride lookup failed", "ride_id", rideID, "error", err)
			return
		}
		rt.reply(ctx, sender, i18n.For(models.LangPortuguese).RideNotFound)
		return
	}
	if err := rt.rides.BeginCPFConfirmation(ctx, sender, rideID); err != nil {
		logger.Error("cpf confirmation open failed", "ride_id", rideID, "error", err)
	}
}

// handleBareNumber treats a lone number from a sessionless sender as an
// acceptance attempt when it names a real ride. Reports whether the message
// was consumed.
func (rt *Router) handleBareNumber(ctx context.Context, sender string, rideID int64, logger *slog.Logger) bool {
	if _, err := rt.store.GetRide(ctx, rideID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Error("ride lookup failed", "ride_id", rideID, "error", err)
		}
		return false
	}
	rt.handleAccept(ctx, sender, rideID, logger)
	return true
}

func (rt *Router) handleHistory(ctx context.Context, sender string, logger *slog.Logger) {
	user, err := rt.resolver.ResolveUser(ctx, sender)
	if err != nil {
		logger.Error("passenger lookup failed", "error", err)
		return
	}
	lang := rt.senderLanguage(ctx, sender)
	if user == nil {
		rt.reply(ctx, sender, i18n.For(lang).HistoryEmpty)
		return
	}
	if err := rt.rides.History(ctx, user, lang); err != nil {
		logger.Error("history failed", "error", err)
	}
}

// senderLanguage falls back to the language of the sender's latest session,
// Portuguese when there is none.
func (rt *Router) senderLanguage(ctx context.Context, sender string) models.Language {
	cs, err := rt.store.GetConversation(ctx, sender)
	if err != nil || cs.Language == "" {
		return models.LangPortuguese
	}
	return cs.Language
}

func (rt *Router) reply(ctx context.Context, to, text string) {
	observability.MessagesOutbound.Inc()
	if err := rt.msgr.SendText(ctx, to, text); err != nil {
		observability.SendFailures.Inc()
		rt.logger.Error("send failed", "to", to, "error", err)
	}
}

// requestTrigger recognizes messages that open a new request session: any
// message containing a trigger word, optionally alongside the test word. A
// bare test word also triggers. Test mode narrows the broadcast pool to the
// configured test driver.
func requestTrigger(text string) (ok, testMode bool) {
	var trigger, test bool
	for _, word := range strings.Fields(strings.ToLower(text)) {
		switch word {
		case "taxi", "táxi", "mototaxi", "moto", "corrida":
			trigger = true
		case "test", "teste":
			test = true
		}
	}
	return trigger || test, test
}

func mustID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}
