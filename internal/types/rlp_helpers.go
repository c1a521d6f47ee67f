package types

import "github.com/dagchain/node/internal/rlp"

type rlpItem = rlp.Item

func rlpUint(v uint64) rlpItem       { return rlp.Uint(v) }
func rlpBytes(b []byte) rlpItem      { return rlp.String(b) }
func rlpList(i ...rlpItem) rlpItem   { return rlp.List(i...) }
func rlpEncode(i rlpItem) []byte     { return rlp.Encode(i) }
