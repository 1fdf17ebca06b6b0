package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Document is an opaque attribute tree. The storage layer never inspects
// attributes beyond _id; interpretation of _key/_rev belongs to the layer
// above.
type Document map[string]interface{}

// DocumentID addresses a document as <collection>/<key>.
type DocumentID string

// encodeBufs recycles the scratch buffers Serialize encodes into.
var encodeBufs = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// Serialize encodes the document to its on-page JSON form.
func (d Document) Serialize() ([]byte, error) {
	buf := encodeBufs.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		encodeBufs.Put(buf)
	}()

	if err := json.NewEncoder(buf).Encode(d); err != nil {
		return nil, fmt.Errorf("serialize document: %w", err)
	}

	// The buffer goes back to the pool, so the caller gets a copy.
	// Encode appends a newline the page format does not want.
	raw := buf.Bytes()
	if n := len(raw); n > 0 && raw[n-1] == '\n' {
		raw = raw[:n-1]
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// DeserializeDocument decodes the on-page form back into a Document.
func DeserializeDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("deserialize document: %w", err)
	}
	return d, nil
}

// GetID returns the _id attribute, if present and a string.
func (d Document) GetID() (DocumentID, bool) {
	v, ok := d["_id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return DocumentID(s), true
}

// SetID stores the _id attribute.
func (d Document) SetID(id DocumentID) {
	d["_id"] = string(id)
}

// Clone deep-copies the document, including nested objects and arrays.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Document:
		return val.Clone()
	case map[string]interface{}:
		return Document(val).Clone()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		// scalars are immutable
		return val
	}
}

// Size reports the encoded size in bytes, 0 if the document does not
// encode.
func (d Document) Size() int {
	data, err := json.Marshal(d)
	if err != nil {
		return 0
	}
	return len(data)
}
