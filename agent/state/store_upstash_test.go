package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

func newUpstashTestStore(t *testing.T, handler http.HandlerFunc, opts ...StoreOption) *UpstashRedisStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{
			URL:   server.URL,
			Token: "token",
		},
		append([]StoreOption{WithHTTPClient(server.Client())}, opts...)...,
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	return store
}

func sampleTranscript(sessionID string) *Transcript {
	tr := NewTranscript(sessionID, time.Now().UTC())
	inv := contractx.Invocation{CallID: "call_1", Action: "create_contact", Args: map[string]any{"email": "a@b.co"}}
	tr.Replace([]contractx.Turn{
		contractx.UserTurn("add a@b.co"),
		contractx.AssistantTurn("", []contractx.Invocation{inv}),
		contractx.ActionResultTurn(contractx.Outcome{Invocation: inv, Success: true, Message: "created", ExternalID: "1"}),
		contractx.AssistantTurn("Done.", nil),
	}, time.Now())
	return tr
}

func TestUpstashRedisStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	got, err := store.redisKey("abc")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "crm:session:abc" {
		t.Fatalf("redisKey() = %q, want %q", got, "crm:session:abc")
	}

	store = &UpstashRedisStore{keyPrefix: "tenant:"}
	if got, _ := store.redisKey("abc"); got != "tenant:abc" {
		t.Fatalf("redisKey() = %q, want tenant:abc", got)
	}
}

func TestUpstashRedisStoreRedisKeyEmptySession(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	_, err := store.redisKey("   ")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidSession", err)
	}
}

func TestUpstashRedisStoreSave(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	var gotAuth string
	store := newUpstashTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprint(w, `{"result":"OK"}`)
	}, WithTTL(90*time.Second))

	if err := store.Save(context.Background(), sampleTranscript("session-1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if gotAuth != "Bearer token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(gotCommand) != 5 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "SET" || gotCommand[1] != "crm:session:session-1" {
		t.Fatalf("unexpected command head: %#v", gotCommand[:2])
	}
	if gotCommand[3] != "EX" || gotCommand[4] != float64(90) {
		t.Fatalf("unexpected expiry: %#v", gotCommand[3:])
	}

	var saved Transcript
	if err := json.Unmarshal([]byte(gotCommand[2].(string)), &saved); err != nil {
		t.Fatalf("decode saved payload: %v", err)
	}
	if len(saved.Turns) != 4 || saved.Turns[2].Outcome == nil || saved.Turns[2].Outcome.ExternalID != "1" {
		t.Fatalf("unexpected saved transcript: %+v", saved)
	}
}

func TestUpstashRedisStoreSaveWithoutTTL(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	store := newUpstashTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&gotCommand)
		fmt.Fprint(w, `{"result":"OK"}`)
	}, WithTTL(0))

	if err := store.Save(context.Background(), sampleTranscript("s")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(gotCommand) != 3 {
		t.Fatalf("expected SET without EX, got %#v", gotCommand)
	}
}

func TestUpstashRedisStoreLoad(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(sampleTranscript("session-2"))
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		t.Fatalf("marshal encoded seed: %v", err)
	}

	var gotCommand []any
	store := newUpstashTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&gotCommand)
		fmt.Fprintf(w, `{"result":%s}`, encoded)
	})

	tr, err := store.Load(context.Background(), "session-2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tr.SessionID != "session-2" || len(tr.Turns) != 4 {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
	if len(gotCommand) != 2 || gotCommand[0] != "GET" || gotCommand[1] != "crm:session:session-2" {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
}

func TestUpstashRedisStoreLoadMissing(t *testing.T) {
	t.Parallel()

	store := newUpstashTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":null}`)
	})

	_, err := store.Load(context.Background(), "nobody")
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}
}

func TestUpstashRedisStoreErrors(t *testing.T) {
	t.Parallel()

	store := newUpstashTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"WRONGPASS invalid token"}`)
	})

	err := store.Delete(context.Background(), "session-3")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "redis http status=401: WRONGPASS invalid token" {
		t.Fatalf("unexpected error: %s", got)
	}
}

func TestUpstashRedisStoreDelete(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	store := newUpstashTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&gotCommand)
		fmt.Fprint(w, `{"result":1}`)
	})

	if err := store.Delete(context.Background(), "session-3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(gotCommand) != 2 || gotCommand[0] != "DEL" || gotCommand[1] != "crm:session:session-3" {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
}

func TestNewUpstashRedisStoreValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewUpstashRedisStore(UpstashRedisConfig{Token: "t"}); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://x.upstash.io"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://x.upstash.io", Token: "t"}, WithTTL(-time.Second)); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}
