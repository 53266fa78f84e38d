// Package auth is optional Firebase ID-token authentication middleware for
// the transport layer's HTTP surface. Grounded on the teacher's
// services.AuthMiddleware/InitFirebase, kept as a thin header-verification
// layer; the co-pilot wires a user ID extracted from the verified token
// into each request's context for the executor's per-user command queues.
package auth

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"

	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
)

type contextKey int

const userIDKey contextKey = iota

// Verifier wraps the Firebase Admin SDK's auth client, initialized once at
// startup.
type Verifier struct {
	app *firebase.App
}

// New bootstraps the Firebase app from credFile; returns nil (auth
// disabled, requests pass through unauthenticated) if the file is absent,
// matching the teacher's stance that auth is optional infrastructure, not
// a startup-blocking dependency.
func New(credFile string) *Verifier {
	if _, err := os.Stat(credFile); os.IsNotExist(err) {
		log.Printf("auth: credentials file %q not found, running unauthenticated", credFile)
		return nil
	}
	opt := option.WithCredentialsFile(credFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		log.Printf("auth: failed to init firebase app, running unauthenticated: %v", err)
		return nil
	}
	return &Verifier{app: app}
}

// Middleware verifies the Authorization: Bearer <token> header against
// Firebase and attaches the verified UID to the request context. When v is
// nil (no credentials configured) requests pass through unchanged.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	if v == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		client, err := v.app.Auth(r.Context())
		if err != nil {
			log.Printf("auth: client init error: %v", err)
			http.Error(w, "internal auth error", http.StatusInternalServerError)
			return
		}
		token, err := client.VerifyIDToken(r.Context(), tokenString)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, token.UID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID reads the verified UID attached by Middleware, falling back to
// "anonymous" when auth is disabled so the executor's per-user queue keys
// remain stable in a no-auth deployment.
func UserID(r *http.Request) string {
	if uid, ok := r.Context().Value(userIDKey).(string); ok {
		return uid
	}
	return "anonymous"
}
