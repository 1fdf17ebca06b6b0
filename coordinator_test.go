package facade

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kartikbazzad/docfacade/internal/shard"
)

func newCoordinatorDB(t *testing.T, peerHandler http.HandlerFunc) (*Database, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(peerHandler)
	t.Cleanup(srv.Close)

	opts := DefaultDatabaseOptions(t.TempDir())
	opts.Role = RoleCoordinator
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	coll, err := db.CreateCollection("widgets")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	coll.SetCoordinatorPeer(srv.URL)
	db.SetShardClient(shard.NewClient(2*time.Second), &ShardClientOptions{RequestTimeout: 2 * time.Second})
	return db, srv
}

func TestCoordinatorInsertSuccess(t *testing.T) {
	db, _ := newCoordinatorDB(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"_key":"abc","_id":"widgets/abc","_rev":"1"}`))
	})
	txn := beginTxn(t, db)
	defer txn.Release(db)

	res, err := txn.Insert("widgets", map[string]interface{}{"name": "x"}, InsertOptions{})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if res.Code != NoError {
		t.Fatalf("code = %s, want NoError", res.Code)
	}
	if res.Payload["_key"] != "abc" {
		t.Errorf("payload = %v", res.Payload)
	}
}

func TestCoordinatorInsertRejectsArray(t *testing.T) {
	dispatched := false
	db, _ := newCoordinatorDB(t, func(w http.ResponseWriter, r *http.Request) {
		dispatched = true
		w.WriteHeader(http.StatusCreated)
	})
	txn := beginTxn(t, db)
	defer txn.Release(db)

	res, err := txn.Insert("widgets", []interface{}{map[string]interface{}{"name": "x"}}, InsertOptions{})
	if err == nil {
		t.Fatal("expected NOT_IMPLEMENTED for an array insert on a coordinator")
	}
	if res.Code != NotImplemented {
		t.Errorf("code = %s, want NotImplemented", res.Code)
	}
	if dispatched {
		t.Error("the coordinator pipeline must never dispatch an array request over HTTP")
	}
}

func TestErrorKindForStatusMapping(t *testing.T) {
	cases := []struct {
		method string
		status int
		want   ErrorKind
	}{
		{http.MethodPost, http.StatusCreated, NoError},
		{http.MethodGet, http.StatusOK, NoError},
		{http.MethodPut, http.StatusAccepted, NoError},
		{http.MethodGet, http.StatusBadRequest, BadParameter},
		{http.MethodPost, http.StatusNotFound, ArangoCollectionNotFound},
		{http.MethodGet, http.StatusNotFound, ArangoDocumentNotFound},
		{http.MethodPut, http.StatusConflict, ArangoUniqueConstraintViolated},
		{http.MethodPut, http.StatusPreconditionFailed, ArangoConflict},
		{http.MethodGet, http.StatusInternalServerError, Internal},
	}
	for _, tc := range cases {
		kind, _ := errorKindForStatus(tc.method, tc.status)
		if kind != tc.want {
			t.Errorf("errorKindForStatus(%s, %d) = %s, want %s", tc.method, tc.status, kind, tc.want)
		}
	}
}

func TestCoordinatorInsertCreatedSetsWaitForSync(t *testing.T) {
	db, _ := newCoordinatorDB(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"_key":"abc"}`))
	})
	txn := beginTxn(t, db)
	defer txn.Release(db)

	// the shard answering 201 means it synced, even though the request
	// never asked for it
	res, err := txn.Insert("widgets", map[string]interface{}{"name": "x"}, InsertOptions{WaitForSync: false})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !res.WaitForSync {
		t.Error("a 201 from the shard must surface WaitForSync=true")
	}
}

func TestCoordinatorBadRequestParsesErrorNum(t *testing.T) {
	db, _ := newCoordinatorDB(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":true,"errorNum":1221,"errorMessage":"illegal document key"}`))
	})
	txn := beginTxn(t, db)
	defer txn.Release(db)

	res, err := txn.Insert("widgets", map[string]interface{}{"name": "x"}, InsertOptions{})
	if err == nil {
		t.Fatal("expected the shard's 400 to surface as an error")
	}
	if res.Code != ArangoDocumentKeyBad {
		t.Errorf("code = %s, want ArangoDocumentKeyBad (from errorNum 1221)", res.Code)
	}
	if want := "illegal document key"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not carry the shard's errorMessage %q", err, want)
	}
}

func TestCoordinatorUnparseableBodyIsInternal(t *testing.T) {
	// a success status with a body that is not JSON
	db, _ := newCoordinatorDB(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`not json {`))
	})
	txn := beginTxn(t, db)
	defer txn.Release(db)

	res, err := txn.Document("widgets", map[string]interface{}{"_key": "abc"}, DocumentOptions{})
	if err == nil {
		t.Fatal("expected an Internal error for an unparseable body")
	}
	if res.Code != Internal {
		t.Errorf("code = %s, want Internal", res.Code)
	}
	if !strings.Contains(err.Error(), "not json {") {
		t.Errorf("error %q does not carry the raw body", err)
	}
}

func TestCoordinatorUnparseable400BodyIsInternal(t *testing.T) {
	db, _ := newCoordinatorDB(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`garbage`))
	})
	txn := beginTxn(t, db)
	defer txn.Release(db)

	res, err := txn.Insert("widgets", map[string]interface{}{"name": "x"}, InsertOptions{})
	if err == nil {
		t.Fatal("expected an error for an unparseable 400 body")
	}
	if res.Code != Internal {
		t.Errorf("code = %s, want Internal", res.Code)
	}
}

func TestCoordinatorDocumentConflictStatus(t *testing.T) {
	db, _ := newCoordinatorDB(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	})
	txn := beginTxn(t, db)
	defer txn.Release(db)

	res, err := txn.Document("widgets", map[string]interface{}{"_key": "abc"}, DocumentOptions{})
	if err == nil {
		t.Fatal("expected an ARANGO_CONFLICT error")
	}
	if res.Code != ArangoConflict {
		t.Errorf("code = %s, want ArangoConflict", res.Code)
	}
}
