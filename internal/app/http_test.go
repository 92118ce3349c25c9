package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"modrequests/api/internal/store"
)

func newMemoryServer(t *testing.T) (http.Handler, *recordingNotifier) {
	t.Helper()
	svc, _, notifier := newMemoryService(t)
	return NewHTTPServer(svc, "*", quietLogger()).Handler(), notifier
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["code"] != code {
		t.Fatalf("expected code %s, got %v", code, response["code"])
	}
	if msg, _ := response["error"].(string); msg == "" {
		t.Fatalf("expected error message, got %v", response)
	}
	return response
}

func createViaHTTP(t *testing.T, handler http.Handler, body string) string {
	t.Helper()
	rr := doJSON(t, handler, http.MethodPost, "/request", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	id, _ := response["id"].(string)
	if id == "" {
		t.Fatalf("create: expected id, got %v", response)
	}
	if response["message"] != "Request submitted successfully" {
		t.Fatalf("create: unexpected message %v", response["message"])
	}
	return id
}

func getViaHTTP(t *testing.T, handler http.Handler, id string) store.Request {
	t.Helper()
	rr := doJSON(t, handler, http.MethodGet, "/requests/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var item store.Request
	if err := json.Unmarshal(rr.Body.Bytes(), &item); err != nil {
		t.Fatalf("get: decode: %v", err)
	}
	return item
}

func TestCreateRequestHTTP(t *testing.T) {
	handler, _ := newMemoryServer(t)

	id := createViaHTTP(t, handler, `{"gameName":"Minecraft","latestVersion":"1.21","iconUrl":"https://example.com/i.png","createdBy":"u1"}`)

	rr := doJSON(t, handler, http.MethodGet, "/requests/"+id, "")
	var raw map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"id", "gameName", "latestVersion", "details", "iconUrl", "createdBy", "comments", "timestamp", "lastActivity"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("record is missing %q: %v", key, raw)
		}
	}
	if comments, ok := raw["comments"].([]any); !ok || len(comments) != 0 {
		t.Errorf("expected comments=[], got %v", raw["comments"])
	}
	if raw["createdBy"] != "u1" || raw["iconUrl"] != "https://example.com/i.png" {
		t.Errorf("unexpected record %v", raw)
	}
}

func TestCreateRequestHTTPAlias(t *testing.T) {
	handler, _ := newMemoryServer(t)

	rr := doJSON(t, handler, http.MethodPost, "/requests", `{"gameName":"Terraria"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	item := getViaHTTP(t, handler, decodeResponse(t, rr)["id"].(string))
	if item.CreatedBy != store.DefaultCreator {
		t.Errorf("CreatedBy = %q", item.CreatedBy)
	}
}

func TestCreateRequestHTTPValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "empty body", body: "", code: "VALIDATION_ERROR"},
		{name: "missing gameName", body: `{"details":"x"}`, code: "VALIDATION_ERROR"},
		{name: "null gameName", body: `{"gameName":null}`, code: "VALIDATION_ERROR"},
		{name: "malformed json", body: `{"gameName":`, code: "INVALID_BODY"},
		{name: "wrong type", body: `{"gameName":42}`, code: "INVALID_BODY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, notifier := newMemoryServer(t)
			rr := doJSON(t, handler, http.MethodPost, "/request", tt.body)
			expectError(t, rr, http.StatusBadRequest, tt.code)

			list := doJSON(t, handler, http.MethodGet, "/requests", "")
			if strings.TrimSpace(list.Body.String()) != "[]" {
				t.Errorf("expected no stored requests, got %s", list.Body.String())
			}
			if len(notifier.events()) != 0 {
				t.Error("expected no notification")
			}
		})
	}
}

func TestListRequestsHTTP(t *testing.T) {
	handler, _ := newMemoryServer(t)
	first := createViaHTTP(t, handler, `{"gameName":"First","createdBy":"u1"}`)
	createViaHTTP(t, handler, `{"gameName":"Second","createdBy":"u1"}`)

	rr := doJSON(t, handler, http.MethodPost, "/requests/"+first+"/comments", `{"currentUserId":"u1","comment":"bump"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("comment: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodGet, "/requests", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var items []store.Request
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 || items[0].GameName != "First" || items[1].GameName != "Second" {
		t.Fatalf("unexpected order: %s", gameNames(items))
	}
}

func TestGetRequestHTTPNotFound(t *testing.T) {
	handler, _ := newMemoryServer(t)
	expectError(t, doJSON(t, handler, http.MethodGet, "/requests/nope", ""), http.StatusNotFound, "NOT_FOUND")
}

func TestEditRequestHTTP(t *testing.T) {
	handler, _ := newMemoryServer(t)
	id := createViaHTTP(t, handler, `{"gameName":"Minecraft","details":"old","createdBy":"u1"}`)

	expectError(t, doJSON(t, handler, http.MethodPut, "/requests/"+id, `{"currentUserId":"u2","details":"new"}`), http.StatusForbidden, "FORBIDDEN")
	expectError(t, doJSON(t, handler, http.MethodPut, "/requests/"+id, `{"details":"new"}`), http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, doJSON(t, handler, http.MethodPut, "/requests/missing", `{"currentUserId":"u1"}`), http.StatusNotFound, "NOT_FOUND")

	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		rr := doJSON(t, handler, method, "/requests/"+id, `{"currentUserId":"u1","latestVersion":"`+method+`"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", method, rr.Code, rr.Body.String())
		}
		if decodeResponse(t, rr)["message"] != "Request updated successfully" {
			t.Fatalf("%s: unexpected body %s", method, rr.Body.String())
		}
		item := getViaHTTP(t, handler, id)
		if item.LatestVersion != method || item.Details != "old" || item.GameName != "Minecraft" {
			t.Fatalf("%s: unexpected record %+v", method, item)
		}
	}
}

func TestDeleteRequestHTTP(t *testing.T) {
	handler, notifier := newMemoryServer(t)
	id := createViaHTTP(t, handler, `{"gameName":"Minecraft","createdBy":"u1"}`)

	expectError(t, doJSON(t, handler, http.MethodDelete, "/requests/"+id, `{"currentUserId":"m1"}`), http.StatusForbidden, "FORBIDDEN")
	expectError(t, doJSON(t, handler, http.MethodDelete, "/requests/"+id, ""), http.StatusBadRequest, "VALIDATION_ERROR")

	rr := doJSON(t, handler, http.MethodDelete, "/requests/"+id+"?currentUserId=a1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	expectError(t, doJSON(t, handler, http.MethodGet, "/requests/"+id, ""), http.StatusNotFound, "NOT_FOUND")
	expectError(t, doJSON(t, handler, http.MethodDelete, "/requests/"+id, `{"currentUserId":"a1"}`), http.StatusNotFound, "NOT_FOUND")

	if got := notifier.last(); got.Actor != "a1" || got.Subject != "u1" {
		t.Errorf("unexpected notification %+v", got)
	}
}

func TestCommentLifecycleHTTP(t *testing.T) {
	handler, _ := newMemoryServer(t)
	id := createViaHTTP(t, handler, `{"gameName":"Minecraft"}`)

	rr := doJSON(t, handler, http.MethodPost, "/requests/"+id+"/comments", `{"currentUserId":"m1","comment":"looks good"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	expectError(t, doJSON(t, handler, http.MethodPost, "/requests/"+id+"/comments", `{"currentUserId":"u2","comment":"me too"}`), http.StatusForbidden, "FORBIDDEN")
	expectError(t, doJSON(t, handler, http.MethodPost, "/requests/"+id+"/comments", `{"currentUserId":"m1"}`), http.StatusBadRequest, "VALIDATION_ERROR")

	item := getViaHTTP(t, handler, id)
	if item.Comments.Len() != 1 || item.Comments[0].UserID != "m1" || item.Comments[0].Comment != "looks good" {
		t.Fatalf("unexpected comments %+v", item.Comments)
	}

	expectError(t, doJSON(t, handler, http.MethodDelete, "/requests/"+id+"/comments/0", `{"currentUserId":"u2"}`), http.StatusForbidden, "FORBIDDEN")
	expectError(t, doJSON(t, handler, http.MethodDelete, "/requests/"+id+"/comments/abc", `{"currentUserId":"a1"}`), http.StatusBadRequest, "VALIDATION_ERROR")

	response := expectError(t, doJSON(t, handler, http.MethodDelete, "/requests/"+id+"/comments/5", `{"currentUserId":"a1"}`), http.StatusBadRequest, "OUT_OF_RANGE")
	details, _ := response["details"].(map[string]any)
	if details["index"] != float64(5) || details["count"] != float64(1) {
		t.Errorf("unexpected details %v", response["details"])
	}

	rr = doJSON(t, handler, http.MethodDelete, "/requests/"+id+"/comments/0?currentUserId=a1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if item := getViaHTTP(t, handler, id); item.Comments.Len() != 0 {
		t.Fatalf("expected empty ledger, got %+v", item.Comments)
	}
}

func TestStoreFailureHTTP(t *testing.T) {
	server := newTestServer(&fakeStore{
		getAllFn: func(context.Context) ([]store.Request, error) {
			return nil, errors.New("list requests: connection refused")
		},
	}, Options{})

	rr := doJSON(t, server.Handler(), http.MethodGet, "/requests", "")
	response := expectError(t, rr, http.StatusInternalServerError, "STORE_UNAVAILABLE")
	details, _ := response["details"].(map[string]any)
	if details["cause"] != "list requests: connection refused" {
		t.Errorf("unexpected details %v", response["details"])
	}
}

func TestUnknownRouteHTTP(t *testing.T) {
	server := newTestServer(&fakeStore{}, Options{})
	expectError(t, doJSON(t, server.Handler(), http.MethodGet, "/nope", ""), http.StatusNotFound, "NOT_FOUND")
}

func TestPanicIsRecoveredHTTP(t *testing.T) {
	server := newTestServer(&fakeStore{
		getByIDFn: func(context.Context, string) (store.Request, error) {
			panic("boom")
		},
	}, Options{})

	rr := doJSON(t, server.Handler(), http.MethodGet, "/requests/r1", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rr.Code)
	}
}
