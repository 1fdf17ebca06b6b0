package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// coordinatorDispatch issues one single-document CRUD RPC to collName's
// configured peer and maps the HTTP status back onto the wire error-kind
// vocabulary. Arrays are rejected with NotImplemented: the coordinator
// pipeline is single-document only.
func (t *Transaction) coordinatorDispatch(collName, method string, body []byte, params url.Values) (*OperationResult, error) {
	db := t.db()
	if db.shardClient == nil {
		return newResult(Internal, false), wrapErr(Internal, nil, "coordinator has no shard client configured")
	}

	coll, err := db.GetCollection(collName)
	if err != nil {
		return newResult(KindOf(err), false), err
	}
	peer := coll.CoordinatorPeer()
	if peer == "" {
		return newResult(ArangoCollectionNotFound, false), wrapErr(ArangoCollectionNotFound, nil, "no shard peer configured for %s", collName)
	}

	if t.NoLockHeader != "" && params == nil {
		params = url.Values{}
	}

	ctx := context.Background()
	if db.shardOpts != nil && db.shardOpts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, db.shardOpts.RequestTimeout)
		defer cancel()
	}
	resp, err := db.shardClient.Dispatch(ctx, peer, method, db.Name(), collName, body, params, t.NoLockHeader)
	if err != nil {
		t.MarkFailed()
		return newResult(Internal, false), wrapErr(Internal, err, "dispatch to %s failed", peer)
	}

	kind, opErr := errorKindForStatus(method, resp.StatusCode)
	if resp.StatusCode == http.StatusBadRequest && len(resp.Body) > 0 {
		kind, opErr = shardErrorKind(resp.Body)
	}
	// a 201 means the shard synced the write regardless of what the
	// request asked for
	result := newResult(kind, resp.StatusCode == http.StatusCreated)
	if kind != NoError {
		t.MarkFailed()
		return result, opErr
	}

	if len(resp.Body) > 0 {
		var payload map[string]interface{}
		if jerr := json.Unmarshal(resp.Body, &payload); jerr != nil {
			t.MarkFailed()
			result.Code = Internal
			return result, wrapErr(Internal, jerr, "unparseable shard response body %q", resp.Body)
		}
		result.Payload = payload
	}
	return result, nil
}

// shardErrorKind parses a shard's 400 body for errorNum/errorMessage,
// mapping the error number back onto the wire vocabulary so a rejected
// request surfaces the shard's actual error rather than a blanket
// BadParameter. An unparseable body is itself an Internal error carrying
// the raw body and the parser message.
func shardErrorKind(body []byte) (ErrorKind, error) {
	var shardErr struct {
		ErrorNum     int    `json:"errorNum"`
		ErrorMessage string `json:"errorMessage"`
	}
	if jerr := json.Unmarshal(body, &shardErr); jerr != nil {
		return Internal, wrapErr(Internal, jerr, "unparseable shard error body %q", body)
	}
	kind := kindForErrorNum(shardErr.ErrorNum)
	return kind, wrapErr(kind, nil, "shard error %d: %s", shardErr.ErrorNum, shardErr.ErrorMessage)
}

// errorKindForStatus maps a shard response's HTTP status to the wire
// error-kind vocabulary.
func errorKindForStatus(method string, status int) (ErrorKind, error) {
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return NoError, nil
	case http.StatusBadRequest:
		// callers with the response body in hand refine this via
		// shardErrorKind
		return BadParameter, wrapErr(BadParameter, nil, "shard rejected request body")
	case http.StatusNotFound:
		if method == http.MethodPost {
			return ArangoCollectionNotFound, ErrCollectionNotFound
		}
		return ArangoDocumentNotFound, ErrDocumentNotFound
	case http.StatusConflict:
		return ArangoUniqueConstraintViolated, ErrUniqueViolation
	case http.StatusPreconditionFailed:
		return ArangoConflict, ErrConflict
	default:
		return Internal, wrapErr(Internal, nil, "shard responded with unexpected status %d", status)
	}
}

// coordinatorDocument reads one document through the shard RPC.
func (t *Transaction) coordinatorDocument(collName string, value interface{}, opts DocumentOptions) (*OperationResult, error) {
	if _, isArray := asArray(value); isArray {
		return newResult(NotImplemented, false), ErrNotImplemented
	}
	key := ExtractKey(value)
	if key == "" {
		return newResult(ArangoDocumentKeyBad, false), ErrDocumentKeyBad
	}
	params := url.Values{"key": {key}}
	if opts.IgnoreRevs {
		params.Set("ignoreRevs", "true")
	}
	return t.coordinatorDispatch(collName, http.MethodGet, nil, params)
}

// coordinatorInsert stores one document through the shard RPC.
func (t *Transaction) coordinatorInsert(collName string, value interface{}, opts InsertOptions) (*OperationResult, error) {
	if _, isArray := asArray(value); isArray {
		return newResult(NotImplemented, opts.WaitForSync), ErrNotImplemented
	}
	doc, ok := asDoc(value)
	if !ok {
		return newResult(ArangoDocumentTypeInvalid, opts.WaitForSync), ErrDocumentTypeInvalid
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return newResult(Internal, opts.WaitForSync), wrapErr(Internal, err, "marshaling insert body")
	}
	params := requestParams(opts.WaitForSync, opts.Silent, opts.ReturnNew, false)
	result, err := t.coordinatorDispatch(collName, http.MethodPost, body, params)
	result.WaitForSync = result.WaitForSync || opts.WaitForSync
	return result, err
}

// coordinatorWrite updates or replaces one document through the shard RPC.
func (t *Transaction) coordinatorWrite(collName string, value interface{}, opts UpdateOptions, httpMethod string) (*OperationResult, error) {
	if _, isArray := asArray(value); isArray {
		return newResult(NotImplemented, opts.WaitForSync), ErrNotImplemented
	}
	doc, ok := asDoc(value)
	if !ok {
		return newResult(ArangoDocumentTypeInvalid, opts.WaitForSync), ErrDocumentTypeInvalid
	}
	key := ExtractKey(value)
	if key == "" {
		return newResult(ArangoDocumentKeyBad, opts.WaitForSync), ErrDocumentKeyBad
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return newResult(Internal, opts.WaitForSync), wrapErr(Internal, err, "marshaling write body")
	}
	params := requestParams(opts.WaitForSync, opts.Silent, opts.ReturnNew, opts.ReturnOld)
	params.Set("key", key)
	if opts.IgnoreRevs {
		params.Set("ignoreRevs", "true")
	}
	result, err := t.coordinatorDispatch(collName, httpMethod, body, params)
	result.WaitForSync = result.WaitForSync || opts.WaitForSync
	return result, err
}

// coordinatorRemove deletes one document through the shard RPC.
func (t *Transaction) coordinatorRemove(collName string, value interface{}, opts RemoveOptions) (*OperationResult, error) {
	if _, isArray := asArray(value); isArray {
		return newResult(NotImplemented, opts.WaitForSync), ErrNotImplemented
	}
	key := ExtractKey(value)
	if key == "" {
		return newResult(ArangoDocumentKeyBad, opts.WaitForSync), ErrDocumentKeyBad
	}
	params := requestParams(opts.WaitForSync, opts.Silent, false, opts.ReturnOld)
	params.Set("key", key)
	if opts.IgnoreRevs {
		params.Set("ignoreRevs", "true")
	}
	result, err := t.coordinatorDispatch(collName, http.MethodDelete, nil, params)
	result.WaitForSync = result.WaitForSync || opts.WaitForSync
	return result, err
}

func requestParams(waitForSync, silent, returnNew, returnOld bool) url.Values {
	params := url.Values{}
	params.Set("waitForSync", strconv.FormatBool(waitForSync))
	if silent {
		params.Set("silent", "true")
	}
	if returnNew {
		params.Set("returnNew", "true")
	}
	if returnOld {
		params.Set("returnOld", "true")
	}
	return params
}
