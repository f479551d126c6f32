package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	actorNameKey    contextKey = "actor_name"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
	requestIDKey    contextKey = "request_id"
)

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the ID the logging middleware assigned to the request.
func GetRequestID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(requestIDKey).(string)
	return id, ok
}

// SetActorName records the authenticated key's name; resolve operations
// attribute resolution metadata to it.
func SetActorName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actorNameKey, name)
}

// GetActorName returns the authenticated actor's name, if any.
func GetActorName(r *http.Request) (string, bool) {
	name, ok := r.Context().Value(actorNameKey).(string)
	return name, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// ExportedKeyPrefixKey exposes the key prefix context key for tests.
func ExportedKeyPrefixKey() any { return keyPrefixKey }

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}
