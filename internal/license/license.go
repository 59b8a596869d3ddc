// Package license is the boundary to the licensing system. The core only
// asks whether the installation may import or export; how a key is
// issued or verified lives elsewhere.
package license

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/duynguyendang/fiscalxml/pkg/common/errors"
)

// ErrInvalid is returned by a gate that refuses the operation.
var ErrInvalid = fmt.Errorf("%w: license is not valid", apperrors.ErrForbidden)

// Gate reports whether licensed operations may run.
type Gate interface {
	Check(ctx context.Context) error
}

// AllowAll permits everything. It is meant for tests and development.
type AllowAll struct{}

func (AllowAll) Check(context.Context) error { return nil }

var keyFormat = regexp.MustCompile(`^[A-Z0-9]{4}(-[A-Z0-9]{4}){3}$`)

// Static accepts a configured key of the form XXXX-XXXX-XXXX-XXXX.
type Static struct {
	Key string
}

func (s Static) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := strings.ToUpper(strings.TrimSpace(s.Key))
	if key == "" {
		return fmt.Errorf("%w: no license key configured", ErrInvalid)
	}
	if !keyFormat.MatchString(key) {
		return fmt.Errorf("%w: malformed license key", ErrInvalid)
	}
	return nil
}

// FromKey returns a Static gate, or AllowAll when allowUnlicensed is set
// and no key is configured.
func FromKey(key string, allowUnlicensed bool) Gate {
	if key == "" && allowUnlicensed {
		return AllowAll{}
	}
	return Static{Key: key}
}
