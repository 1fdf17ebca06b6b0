package facade

import "testing"

func TestExtractKey(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"object", map[string]interface{}{"_key": "abc"}, "abc"},
		{"object missing key", map[string]interface{}{"name": "x"}, ""},
		{"bare key string", "abc", "abc"},
		{"id string", "widgets/abc", "abc"},
		{"unsupported type", 42, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractKey(tc.in); got != tc.want {
				t.Errorf("ExtractKey(%v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBuildDocumentIdentity(t *testing.T) {
	identity, err := BuildDocumentIdentity("widgets", "abc", "1", nil, nil, nil)
	if err != nil {
		t.Fatalf("BuildDocumentIdentity: %v", err)
	}
	if identity["_id"] != "widgets/abc" {
		t.Errorf("_id = %v, want widgets/abc", identity["_id"])
	}
	if identity["_key"] != "abc" || identity["_rev"] != "1" {
		t.Errorf("unexpected identity: %v", identity)
	}
	if _, ok := identity["_oldRev"]; ok {
		t.Error("_oldRev should be absent when oldRev is nil")
	}
}

func TestBuildDocumentIdentityRequiresRev(t *testing.T) {
	if _, err := BuildDocumentIdentity("widgets", "abc", "", nil, nil, nil); err == nil {
		t.Fatal("expected an error for an empty rev")
	}
}

func TestEncodeDecodeCustomID(t *testing.T) {
	blob := EncodeCustomID(7)
	cid, ok := decodeCustomID(blob)
	if !ok {
		t.Fatal("decodeCustomID: expected ok")
	}
	if cid != 7 {
		t.Errorf("decodeCustomID = %d, want 7", cid)
	}
}

type fakeResolver struct{ names map[uint64]string }

func (r fakeResolver) ResolveCollectionName(id uint64) (string, error) {
	name, ok := r.names[id]
	if !ok {
		return "", wrapErr(ArangoCollectionNotFound, nil, "no such collection")
	}
	return name, nil
}

func TestExtractIDString(t *testing.T) {
	resolver := fakeResolver{names: map[uint64]string{7: "widgets"}}

	s, err := ExtractIDString(resolver, map[string]interface{}{"_id": "widgets/abc"}, nil)
	if err != nil || s != "widgets/abc" {
		t.Fatalf("plain _id: got %q, %v", s, err)
	}

	tagged := map[string]interface{}{"_id": EncodeCustomID(7), "_key": "abc"}
	s, err = ExtractIDString(resolver, tagged, nil)
	if err != nil || s != "widgets/abc" {
		t.Fatalf("tagged _id: got %q, %v", s, err)
	}

	taggedNoKey := map[string]interface{}{"_id": EncodeCustomID(7)}
	if _, err := ExtractIDString(resolver, taggedNoKey, nil); err == nil {
		t.Fatal("expected ArangoDocumentTypeInvalid when no key is found anywhere")
	}
}
