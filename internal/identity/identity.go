// Package identity resolves transport-level sender identifiers to canonical
// person records. A person may be known by a JID, a LID, or both, and may
// migrate between the two namespaces; drivers get one extra fallback through
// their 11-digit CPF.
package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/storage"
)

// Kind is the detected namespace of a transport identifier.
type Kind int

const (
	KindUnknown Kind = iota
	KindJID
	KindLID
)

const (
	jidSuffix = "@s.whatsapp.net"
	lidSuffix = "@lid"
)

var cpfRe = regexp.MustCompile(`^\d{11}$`)

// DetectKind classifies an identifier by its namespace suffix.
func DetectKind(id string) Kind {
	switch {
	case strings.HasSuffix(id, jidSuffix):
		return KindJID
	case strings.HasSuffix(id, lidSuffix):
		return KindLID
	}
	return KindUnknown
}

// Fields carries exactly one populated identifier column. Updates built from
// it never blank out a previously recorded alternate identifier.
type Fields struct {
	JID string
	LID string
}

// PrepareIdentifierFields returns only the field corresponding to the
// detected identifier type.
func PrepareIdentifierFields(id string) Fields {
	switch DetectKind(id) {
	case KindJID:
		return Fields{JID: id}
	case KindLID:
		return Fields{LID: id}
	}
	return Fields{}
}

// IsValidCPF reports whether s looks like an 11-digit national id.
func IsValidCPF(s string) bool {
	return cpfRe.MatchString(strings.TrimSpace(s))
}

// Resolver looks up users and drivers by transport identifier.
type Resolver struct {
	store storage.Store
}

func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveUser finds the passenger known by the sender identifier, trying the
// same-type match first and the opposite namespace second (a person may have
// switched identifier types since registration). Returns (nil, nil) when
// nobody matches; absence is not an error.
func (r *Resolver) ResolveUser(ctx context.Context, sender string) (*models.User, error) {
	first, second := r.userLookups(sender)
	for _, lookup := range []func(context.Context, string) (*models.User, error){first, second} {
		u, err := lookup(ctx, sender)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (r *Resolver) userLookups(sender string) (a, b func(context.Context, string) (*models.User, error)) {
	if DetectKind(sender) == KindLID {
		return r.store.FindUserByLID, r.store.FindUserByJID
	}
	return r.store.FindUserByJID, r.store.FindUserByLID
}

// ResolveDriver finds the driver known by the sender identifier: same-type
// match, then opposite-type, then the identifier's digits interpreted as a
// CPF. Returns (nil, nil) when nothing matches.
func (r *Resolver) ResolveDriver(ctx context.Context, sender string) (*models.Driver, error) {
	lookups := []func(context.Context, string) (*models.Driver, error){}
	if DetectKind(sender) == KindLID {
		lookups = append(lookups, r.store.FindDriverByLID, r.store.FindDriverByJID)
	} else {
		lookups = append(lookups, r.store.FindDriverByJID, r.store.FindDriverByLID)
	}
	for _, lookup := range lookups {
		d, err := lookup(ctx, sender)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	if digits := localPart(sender); IsValidCPF(digits) {
		d, err := r.store.FindDriverByCPF(ctx, digits)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// ResolveDriverByCPF is the re-link path used by the CPF confirmation
// sub-flow: a bare 11-digit reply from an unrecognized sender.
func (r *Resolver) ResolveDriverByCPF(ctx context.Context, cpf string) (*models.Driver, error) {
	if !IsValidCPF(cpf) {
		return nil, nil
	}
	d, err := r.store.FindDriverByCPF(ctx, strings.TrimSpace(cpf))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// IsSameUser reports whether the sender identifier addresses the given user.
func IsSameUser(sender string, u *models.User) bool {
	if u == nil {
		return false
	}
	return matches(sender, u.JID, u.LID)
}

// IsSameDriver reports whether the sender identifier addresses the given driver.
func IsSameDriver(sender string, d *models.Driver) bool {
	if d == nil {
		return false
	}
	return matches(sender, d.JID, d.LID)
}

func matches(sender, jid, lid string) bool {
	return (jid != "" && sender == jid) || (lid != "" && sender == lid)
}

func localPart(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		return id[:i]
	}
	return id
}
