package badger

import (
	"encoding/binary"
	"fmt"
)

// ============================================================================
// Database Key Namespace Design
// ============================================================================
//
// BadgerDB is a key-value store, so the record tree is flattened into
// prefixed keys. Names map to nodes; a node holds the record bytes, its link
// count and its extended attributes, so hard links share one node.
//
// Data Type        Prefix   Key Format                   Value
// ==========================================================================
// Entry            "e:"     e:<dir>\x00<name>            entryValue
// Record data      "r:"     r:<nodeID>                   record bytes
// Link count       "l:"     l:<nodeID>                   uint32 (binary)
// Extended attr    "x:"     x:<nodeID>\x00<attrName>     attribute bytes
// Node sequence    "seq:"   seq:node                     badger sequence
//
// <dir> is the clean slash separated directory path ("" for the root), so a
// prefix scan over e:<dir>\x00 lists a directory in lexical name order.

const (
	prefixEntry     = "e:"
	prefixRecord    = "r:"
	prefixLinkCount = "l:"
	prefixXattr     = "x:"
	keyNodeSequence = "seq:node"
)

const (
	entryKindRecord byte = 'r'
	entryKindDir    byte = 'd'
)

// ============================================================================
// Key Generation Functions
// ============================================================================

// keyEntry generates a key for a name: "e:<dir>\x00<name>"
func keyEntry(dir, name string) []byte {
	return []byte(prefixEntry + dir + "\x00" + name)
}

// keyEntryPrefix generates the prefix of all names in dir: "e:<dir>\x00"
func keyEntryPrefix(dir string) []byte {
	return []byte(prefixEntry + dir + "\x00")
}

func nodeSuffix(node uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], node)
	return string(b[:])
}

// keyRecord generates a key for record data: "r:<nodeID>"
func keyRecord(node uint64) []byte {
	return []byte(prefixRecord + nodeSuffix(node))
}

// keyLinkCount generates a key for a link count: "l:<nodeID>"
func keyLinkCount(node uint64) []byte {
	return []byte(prefixLinkCount + nodeSuffix(node))
}

// keyXattr generates a key for an extended attribute: "x:<nodeID>\x00<name>"
func keyXattr(node uint64, name string) []byte {
	return []byte(prefixXattr + nodeSuffix(node) + "\x00" + name)
}

// keyXattrPrefix generates the prefix of all attributes of a node.
func keyXattrPrefix(node uint64) []byte {
	return []byte(prefixXattr + nodeSuffix(node) + "\x00")
}

// ============================================================================
// Value Encoding
// ============================================================================

// entryValue is the value of an entry key: a kind byte followed by the node ID
// for records.
type entryValue struct {
	kind byte
	node uint64
}

func encodeEntry(v entryValue) []byte {
	b := make([]byte, 9)
	b[0] = v.kind
	binary.BigEndian.PutUint64(b[1:], v.node)
	return b
}

func decodeEntry(b []byte) (entryValue, error) {
	if len(b) != 9 || (b[0] != entryKindRecord && b[0] != entryKindDir) {
		return entryValue{}, fmt.Errorf("invalid entry value (%d bytes)", len(b))
	}
	return entryValue{kind: b[0], node: binary.BigEndian.Uint64(b[1:])}, nil
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func decodeUint32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("invalid uint32 value (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}
