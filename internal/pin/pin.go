package pin

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"

	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/errors"
)

const (
	// RoomPrefix prefixes the relay room of a session.
	RoomPrefix = "game-"

	lowest = 1000
	span   = 9000
)

// Generate returns a random 4-digit pin between 1000 and 9999.
func Generate() string {
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}

	return strconv.FormatInt(n.Int64()+lowest, 10)
}

// Valid reports whether p is exactly 4 ASCII digits.
func Valid(p string) bool {
	if len(p) != 4 {
		return false
	}

	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return false
		}
	}

	return true
}

func Validate(p string) error {
	if !Valid(p) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid pin %q", p),
			errors.WithCause(domain.ErrInvalidPin),
		)
	}

	return nil
}

// Room returns the relay room identifier of a session.
func Room(p string) string {
	return RoomPrefix + p
}

// FromRoom returns the pin of a relay room identifier.
func FromRoom(room string) (string, error) {
	p, ok := strings.CutPrefix(room, RoomPrefix)
	if !ok {
		return "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid room %q", room),
			errors.WithCause(domain.ErrInvalidPin),
		)
	}

	return p, Validate(p)
}

// CacheName returns the local cache identifier of a session within namespace.
func CacheName(namespace, p string) string {
	return namespace + "-" + p
}
