package keystore

import (
	"fmt"
	"strconv"
	"strings"
)

// splitAddr parses the "user.device" peer address strings the rest of
// the relay core passes across the keystore boundary, mirroring
// signalsession.Address.String.
func splitAddr(peerAddr string) (user string, device uint32, err error) {
	idx := strings.LastIndexByte(peerAddr, '.')
	if idx < 0 {
		return "", 0, fmt.Errorf("keystore: invalid peer address %q", peerAddr)
	}
	user = peerAddr[:idx]
	n, err := strconv.ParseUint(peerAddr[idx+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("keystore: invalid device id in %q: %w", peerAddr, err)
	}
	return user, uint32(n), nil
}
