// Package util provides shared logging, statistics and identification helpers.
package util

import (
	"hash/fnv"
	"net"
)

// PeerID computes a 4-byte hash of a peer address, used to tag log lines.
// It is for identification only and does not need to be reversible.
func PeerID(addr net.Addr) uint32 {
	if addr == nil {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(addr.Network()))
	h.Write([]byte(addr.String()))
	return h.Sum32()
}
