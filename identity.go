package facade

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// customIDTag marks the 9-byte blob encoding of `_id`: byte 0 is the tag,
// bytes 1..8 are the little-endian collection id.
const customIDTag = 0xF3

// NameResolver looks up a collection's name from its numeric id. The
// façade only consumes it; cluster-aware resolution lives with the
// metadata directory.
type NameResolver interface {
	ResolveCollectionName(id uint64) (string, error)
}

// ExtractKey returns the document key carried by slice.
//
// From an object, the `_key` attribute (must be a string, else empty
// string). From a string, the whole string, or the suffix after the
// first "/" if it contains one. Anything else yields "".
func ExtractKey(slice interface{}) string {
	switch v := slice.(type) {
	case map[string]interface{}:
		raw, ok := v["_key"]
		if !ok {
			return ""
		}
		s, ok := raw.(string)
		if !ok {
			return ""
		}
		return s
	case string:
		if idx := strings.IndexByte(v, '/'); idx >= 0 {
			return v[idx+1:]
		}
		return v
	default:
		return ""
	}
}

// decodeCustomID recognizes the 9-byte tagged `_id` blob and returns the
// encoded collection id.
func decodeCustomID(v interface{}) (uint64, bool) {
	b, ok := v.([]byte)
	if !ok || len(b) != 9 || b[0] != customIDTag {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b[1:]), true
}

// ExtractIDString builds the full "<collection>/<key>" form of a
// document's identity.
//
// If slice is an object, its `_id` attribute is read. A string value is
// returned as-is. Otherwise it must be the custom-tagged blob; the
// collection id is resolved to a name via resolver, and the key is
// searched for in slice first, then in base. A missing key in that case
// is a hard ArangoDocumentTypeInvalid error: the codec never fabricates
// keys.
func ExtractIDString(resolver NameResolver, slice interface{}, base interface{}) (string, error) {
	obj, ok := slice.(map[string]interface{})
	if !ok {
		return "", wrapErr(ArangoDocumentTypeInvalid, nil, "slice is not an object")
	}

	raw, ok := obj["_id"]
	if !ok {
		return "", wrapErr(ArangoDocumentTypeInvalid, nil, "slice has no _id")
	}

	if s, ok := raw.(string); ok {
		return s, nil
	}

	cid, ok := decodeCustomID(raw)
	if !ok {
		return "", wrapErr(ArangoDocumentTypeInvalid, nil, "_id is neither a string nor a tagged collection blob")
	}

	name, err := resolver.ResolveCollectionName(cid)
	if err != nil {
		return "", wrapErr(ArangoCollectionNotFound, err, "resolving collection id %d", cid)
	}

	key := ExtractKey(obj)
	if key == "" {
		if baseObj, ok := base.(map[string]interface{}); ok {
			key = ExtractKey(baseObj)
		}
	}
	if key == "" {
		return "", wrapErr(ArangoDocumentTypeInvalid, nil, "missing _key for tagged _id")
	}

	return name + "/" + key, nil
}

// BuildDocumentIdentity assembles the reserved-attribute object
// describing one document: `_id`, `_key`, `_rev`, and optionally
// `_oldRev`, `old`, `new`. rev must be non-empty.
func BuildDocumentIdentity(collection, key, rev string, oldRev *string, oldDoc, newDoc map[string]interface{}) (map[string]interface{}, error) {
	if rev == "" {
		return nil, wrapErr(Internal, nil, "buildDocumentIdentity: rev must be present")
	}

	out := map[string]interface{}{
		"_id":  fmt.Sprintf("%s/%s", collection, key),
		"_key": key,
		"_rev": rev,
	}
	if oldRev != nil {
		out["_oldRev"] = *oldRev
	}
	if oldDoc != nil {
		out["old"] = oldDoc
	}
	if newDoc != nil {
		out["new"] = newDoc
	}
	return out, nil
}

// EncodeCustomID produces the 9-byte tagged blob for a collection id, the
// inverse of decodeCustomID, used by the coordinator-side encoder when
// constructing `_id` values to hand to a shard.
func EncodeCustomID(collectionID uint64) []byte {
	b := make([]byte, 9)
	b[0] = customIDTag
	binary.LittleEndian.PutUint64(b[1:], collectionID)
	return b
}
