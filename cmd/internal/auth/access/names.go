package access

import (
	"context"

	"github.com/sullivanpt/in-true-life-1/cmd/identity"
)

// NameCheck is the verdict on a proposed user name. The zero value means ok.
type NameCheck string

const (
	NameOK       NameCheck = ""
	NameInvalid  NameCheck = "INVALID"
	NameReserved NameCheck = "RESERVED"
	NameExists   NameCheck = "EXISTS"
)

// CheckNewUserName classifies a proposed name. The EXISTS answer is advisory;
// the store's unique constraint is what actually guarantees uniqueness.
func (s *Service) CheckNewUserName(ctx context.Context, name string) (NameCheck, error) {
	name = identity.NormalizeName(name)
	if name == "" {
		return NameInvalid, nil
	}
	if _, ok := s.reserved[name]; ok {
		return NameReserved, nil
	}
	exists, err := s.store.UserNameExists(ctx, name)
	if err != nil {
		return NameOK, err
	}
	if exists {
		return NameExists, nil
	}
	return NameOK, nil
}
