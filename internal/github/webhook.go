package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"
)

// RepositoryEvent is a repository lifecycle change reported by GitHub.
type RepositoryEvent struct {
	Owner  string
	Repo   string
	Action string // deleted, renamed, archived, ...
	Sender string
}

// PullRequestEvent is a pull request state change reported by GitHub.
type PullRequestEvent struct {
	Owner  string
	Repo   string
	Number int
	Action string
	State  string
	Sender string
}

// MemberEvent reports collaborator changes made directly on GitHub.
type MemberEvent struct {
	Owner  string
	Repo   string
	Member string
	Action string // added, removed, edited
	Sender string
}

// WebhookHandler receives GitHub webhooks so that changes made outside the
// service are reflected in the project audit trail.
type WebhookHandler struct {
	secret   []byte
	logger   zerolog.Logger
	onRepo   func(ctx context.Context, event RepositoryEvent)
	onPR     func(ctx context.Context, event PullRequestEvent)
	onMember func(ctx context.Context, event MemberEvent)
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(secret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret: []byte(secret),
		logger: logger.With().Str("component", "github.webhook").Logger(),
	}
}

// OnRepository sets the handler for repository events.
func (w *WebhookHandler) OnRepository(fn func(ctx context.Context, event RepositoryEvent)) {
	w.onRepo = fn
}

// OnPullRequest sets the handler for pull request events.
func (w *WebhookHandler) OnPullRequest(fn func(ctx context.Context, event PullRequestEvent)) {
	w.onPR = fn
}

// OnMember sets the handler for collaborator events.
func (w *WebhookHandler) OnMember(fn func(ctx context.Context, event MemberEvent)) {
	w.onMember = fn
}

// ServeHTTP handles incoming webhook requests. Handlers run before the
// response is written, detached from the request's cancellation.
func (w *WebhookHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(w.secret) > 0 {
		sig := r.Header.Get("X-Hub-Signature-256")
		if err := gh.ValidateSignature(sig, payload, w.secret); err != nil {
			w.logger.Warn().Err(err).Msg("invalid webhook signature")
			http.Error(rw, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	w.logger.Info().Str("event", eventType).Str("delivery", r.Header.Get("X-GitHub-Delivery")).Msg("webhook received")

	switch eventType {
	case "repository":
		var event gh.RepositoryEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			http.Error(rw, "invalid payload", http.StatusBadRequest)
			return
		}
		if w.onRepo != nil {
			w.onRepo(ctx, RepositoryEvent{
				Owner:  event.GetRepo().GetOwner().GetLogin(),
				Repo:   event.GetRepo().GetName(),
				Action: event.GetAction(),
				Sender: event.GetSender().GetLogin(),
			})
		}

	case "pull_request":
		var event gh.PullRequestEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			http.Error(rw, "invalid payload", http.StatusBadRequest)
			return
		}
		if w.onPR != nil {
			w.onPR(ctx, PullRequestEvent{
				Owner:  event.GetRepo().GetOwner().GetLogin(),
				Repo:   event.GetRepo().GetName(),
				Number: event.GetNumber(),
				Action: event.GetAction(),
				State:  toPullRequest(event.GetPullRequest()).stateOrEmpty(),
				Sender: event.GetSender().GetLogin(),
			})
		}

	case "member":
		var event gh.MemberEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			http.Error(rw, "invalid payload", http.StatusBadRequest)
			return
		}
		if w.onMember != nil {
			w.onMember(ctx, MemberEvent{
				Owner:  event.GetRepo().GetOwner().GetLogin(),
				Repo:   event.GetRepo().GetName(),
				Member: event.GetMember().GetLogin(),
				Action: event.GetAction(),
				Sender: event.GetSender().GetLogin(),
			})
		}

	default:
		w.logger.Debug().Str("event", eventType).Msg("unhandled event type")
	}

	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, "ok")
}

func (pr *PullRequest) stateOrEmpty() string {
	if pr == nil {
		return ""
	}
	return pr.State
}
