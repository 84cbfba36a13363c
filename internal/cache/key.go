package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenRequest identifies the artifact a request asks for.
type TokenRequest struct {
	ContractAddr string
	TokenID      uint64
}

// Key is the structured object key of one artifact.
type Key struct {
	Prefix       string
	ContractAddr string
	TokenID      uint64
}

// KeyFor builds the key of req under prefix.
func KeyFor(prefix string, req TokenRequest) Key {
	return Key{
		Prefix:       strings.Trim(prefix, "/"),
		ContractAddr: req.ContractAddr,
		TokenID:      req.TokenID,
	}
}

// String converts the structured key into the object path.
func (k Key) String() string {
	// <PREFIX>/<CONTRACT>/<TOKEN_ID>.png
	return fmt.Sprintf("%s/%s/%d.png", k.Prefix, k.ContractAddr, k.TokenID)
}

// ParseKey reverses Key.String.
func ParseKey(s string) (Key, bool) {
	if !strings.HasSuffix(s, ".png") {
		return Key{}, false
	}
	parts := strings.Split(strings.TrimSuffix(s, ".png"), "/")
	if len(parts) < 3 {
		return Key{}, false
	}
	n := len(parts)
	tokenID, err := strconv.ParseUint(parts[n-1], 10, 64)
	if err != nil {
		return Key{}, false
	}
	return Key{
		Prefix:       strings.Join(parts[:n-2], "/"),
		ContractAddr: parts[n-2],
		TokenID:      tokenID,
	}, true
}
