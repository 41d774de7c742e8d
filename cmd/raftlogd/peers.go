package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePeers parses id=uri pairs.
func parsePeers(pairs []string) (map[uint64]string, error) {
	addresses := map[uint64]string{}
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		split := strings.SplitN(pair, "=", 2)
		if len(split) != 2 || split[1] == "" {
			return nil, fmt.Errorf("peer %q should be an id=uri pair", pair)
		}
		id, err := strconv.ParseUint(split[0], 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("peer %q has a bad id", pair)
		}
		if _, ok := addresses[id]; ok {
			return nil, fmt.Errorf("peer %d given twice", id)
		}
		addresses[id] = split[1]
	}
	return addresses, nil
}
