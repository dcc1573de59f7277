package ride

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/moto-dispatch/internal/i18n"
	"github.com/example/moto-dispatch/internal/identity"
	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/storage"
)

// BeginCPFConfirmation opens the driver re-link sub-flow: an unrecognized
// sender tried to accept a ride, so we ask for their CPF before honoring
// the acceptance. The sub-flow state lives in the conversations table and
// survives restarts like any session.
func (m *Manager) BeginCPFConfirmation(ctx context.Context, sender string, rideID int64) error {
	cs := &models.ConversationState{
		UserJID:        sender,
		State:          models.StateAwaitingCPFConfirmation,
		RideID:         &rideID,
		CPFAttempts:    0,
		LastActivityAt: m.scheduler.Now(),
		IsActive:       true,
	}
	if err := m.store.UpsertConversation(ctx, cs); err != nil {
		return fmt.Errorf("open cpf confirmation for %s: %w", sender, err)
	}
	m.send(ctx, sender, i18n.For(models.LangPortuguese).CPFPrompt)
	return nil
}

// HandleCPFReply consumes one reply inside the re-link sub-flow. A matching
// CPF records the sender's current identifier on the driver row and then
// replays the original acceptance; three misses close the sub-flow.
func (m *Manager) HandleCPFReply(ctx context.Context, cs *models.ConversationState, text string) error {
	msgs := i18n.For(models.LangPortuguese)
	cpf := strings.TrimSpace(text)
	cs.LastActivityAt = m.scheduler.Now()

	valid := identity.IsValidCPF(cpf)
	var driver *models.Driver
	if valid {
		d, err := m.store.FindDriverByCPF(ctx, cpf)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		driver = d
	}

	if driver == nil {
		cs.CPFAttempts++
		if cs.CPFAttempts >= m.cpfMaxAttempts {
			cs.IsActive = false
			cs.CompletionReason = "cpf_exhausted"
			if err := m.store.UpsertConversation(ctx, cs); err != nil {
				return err
			}
			m.send(ctx, cs.UserJID, msgs.CPFExhausted)
			return nil
		}
		if err := m.store.UpsertConversation(ctx, cs); err != nil {
			return err
		}
		reply := msgs.CPFNoMatch
		if !valid {
			reply = msgs.InvalidCPF
		}
		m.send(ctx, cs.UserJID, reply)
		return nil
	}

	fields := identity.PrepareIdentifierFields(cs.UserJID)
	if fields.JID != "" {
		driver.JID = fields.JID
	}
	if fields.LID != "" {
		driver.LID = fields.LID
	}
	if err := m.store.UpdateDriver(ctx, driver); err != nil {
		return fmt.Errorf("relink driver %s: %w", driver.ID, err)
	}
	m.logger.Info("driver relinked via cpf", "driver_id", driver.ID, "sender", cs.UserJID)

	cs.IsActive = false
	cs.CompletionReason = "cpf_confirmed"
	if err := m.store.UpsertConversation(ctx, cs); err != nil {
		return err
	}
	if cs.RideID == nil {
		return nil
	}
	return m.Accept(ctx, driver, *cs.RideID)
}
