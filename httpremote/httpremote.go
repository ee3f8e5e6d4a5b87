// Package httpremote implements oru.RemoteBackend over HTTP, so a fleet of
// devices can sync through a shared server instead of (or in addition to)
// fsremote's shared-disk database. It is grounded in the teacher's
// SSE/basic-auth consumer: the same connect-with-credentials shape, using a
// bearer token only (no basic auth), and the same "any transport error is
// retryable, caller decides" stance.
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tchayen/oru"
)

// ErrAccessDenied is returned when the remote rejects our credentials.
var ErrAccessDenied = errors.New("httpremote: invalid credentials")

// Remote is a RemoteBackend that POSTs/GETs batches of JSON-encoded
// oru.OplogEntry records to a server exposing the oplog HTTP protocol
// (POST {baseURL}/push, GET {baseURL}/pull?cursor=...).
type Remote struct {
	baseURL string
	token   string // opaque bearer token, passed through per §1's Non-goals
	client  *http.Client
}

// New returns a Remote pointed at baseURL. token, if non-empty, is sent as
// a bearer token on every request; the remote is solely responsible for
// interpreting it, per the spec's "opaque bearer token passed through by
// clients" non-goal.
func New(baseURL, token string) *Remote {
	return &Remote{baseURL: baseURL, token: token, client: &http.Client{}}
}

type pushRequest struct {
	Entries []oru.OplogEntry `json:"entries"`
}

// Push POSTs entries as a single JSON batch. The server is expected to
// INSERT-OR-IGNORE by id, matching fsremote's semantics, so a retried push
// after a dropped connection is always safe.
func (r *Remote) Push(ctx context.Context, entries []oru.OplogEntry) error {
	body, err := json.Marshal(pushRequest{Entries: entries})
	if err != nil {
		return fmt.Errorf("httpremote: encode push body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httpremote: build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	r.authenticate(req)

	res, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpremote: push request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return ErrAccessDenied
	}
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("httpremote: push failed with status %d: %s", res.StatusCode, msg)
	}
	return nil
}

type pullResponse struct {
	Entries []oru.OplogEntry `json:"entries"`
	Cursor  string           `json:"cursor"`
}

// Pull GETs every entry strictly after cursor. The opaque cursor is simply
// forwarded as a query parameter; this package never interprets it.
func (r *Remote) Pull(ctx context.Context, cursor string) ([]oru.OplogEntry, string, error) {
	url := r.baseURL + "/pull"
	if cursor != "" {
		url += "?cursor=" + cursor
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cursor, fmt.Errorf("httpremote: build pull request: %w", err)
	}
	r.authenticate(req)

	res, err := r.client.Do(req)
	if err != nil {
		return nil, cursor, fmt.Errorf("httpremote: pull request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, cursor, ErrAccessDenied
	}
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(res.Body)
		return nil, cursor, fmt.Errorf("httpremote: pull failed with status %d: %s", res.StatusCode, msg)
	}

	var parsed pullResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, cursor, fmt.Errorf("httpremote: decode pull response: %w", err)
	}
	if len(parsed.Entries) == 0 {
		return nil, cursor, nil
	}
	return parsed.Entries, parsed.Cursor, nil
}

func (r *Remote) authenticate(req *http.Request) {
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
}
