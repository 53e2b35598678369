package application

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/logger"
	"github.com/ftu-admissions/admission-api/internal/metrics"
)

// ResolveAction tells a stage how to proceed.
type ResolveAction string

const (
	// ActionUse continues with the supplied id.
	ActionUse ResolveAction = "use"
	// ActionRedirect reloads the same stage with a recovered id.
	ActionRedirect ResolveAction = "redirect"
	// ActionRestart sends the user back to the first stage.
	ActionRestart ResolveAction = "restart"
	// ActionStartFresh lets the first stage continue without a draft; one is created on first save.
	ActionStartFresh ResolveAction = "start"
)

// ResolveRequest is what a stage knows when it is loaded.
type ResolveRequest struct {
	Stage      domain.Stage
	ID         string
	SessionKey string
}

// Resolution is the resolver verdict.
type Resolution struct {
	Action        ResolveAction `json:"action"`
	ApplicationID string        `json:"applicationId,omitempty"`
	Location      string        `json:"location,omitempty"`
}

// ResolverConfig bounds the wait for a late identifier.
type ResolverConfig struct {
	Wait         time.Duration
	PollInterval time.Duration
}

// Resolver determines which draft a stage operates on. It never creates drafts.
type Resolver struct {
	drafts DraftService
	hints  HintStore
	cfg    ResolverConfig
	logger logger.Logger
}

// NewResolver builds a resolver. hints may be nil.
func NewResolver(drafts DraftService, hints HintStore, cfg ResolverConfig, log logger.Logger) *Resolver {
	if cfg.Wait < 0 {
		cfg.Wait = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Resolver{drafts: drafts, hints: hints, cfg: cfg, logger: log}
}

// Wait is the longest time Resolve blocks waiting for a session hint.
func (r *Resolver) Wait() time.Duration {
	return r.cfg.Wait
}

// Resolve applies the rules: a present, existing id is used; otherwise the session hint yields
// one redirect to the same stage; otherwise, after a bounded wait, the user restarts.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	stage := req.Stage
	if stage == "" {
		stage = domain.StageStream
	}

	stale := strings.TrimSpace(req.ID)
	if stale != "" {
		exists, err := r.exists(ctx, stale)
		if err != nil {
			return Resolution{}, err
		}
		if exists {
			return r.record(Resolution{Action: ActionUse, ApplicationID: stale}), nil
		}
	}

	if r.hints != nil && strings.TrimSpace(req.SessionKey) != "" {
		id, err := r.awaitHint(ctx, req.SessionKey, stale)
		if err != nil {
			return Resolution{}, err
		}
		if id != "" {
			return r.record(Resolution{
				Action:        ActionRedirect,
				ApplicationID: id,
				Location:      stage.Path() + "?id=" + url.QueryEscape(id),
			}), nil
		}
	}

	if stage == domain.StageStream {
		return r.record(Resolution{Action: ActionStartFresh}), nil
	}
	return r.record(Resolution{Action: ActionRestart, Location: domain.StageStream.Path()}), nil
}

func (r *Resolver) awaitHint(ctx context.Context, sessionKey, stale string) (string, error) {
	deadline := time.Now().Add(r.cfg.Wait)
	for {
		id, err := r.hints.Recall(ctx, sessionKey)
		if err != nil {
			r.logger.Warn("session hint lookup failed", map[string]interface{}{"error": err.Error()})
		} else if id != "" && id != stale {
			exists, err := r.exists(ctx, id)
			if err != nil {
				return "", err
			}
			if exists {
				return id, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", nil
		}
		wait := r.cfg.PollInterval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", apperror.FromContext(ctx.Err(), "resolve session")
		case <-timer.C:
		}
	}
}

func (r *Resolver) exists(ctx context.Context, id string) (bool, error) {
	_, err := r.drafts.Fetch(ctx, id)
	if err == nil {
		return true, nil
	}
	if apperror.IsCode(err, apperror.CodeNotFound) {
		return false, nil
	}
	return false, err
}

func (r *Resolver) record(res Resolution) Resolution {
	metrics.SessionResolutions.WithLabelValues(string(res.Action)).Inc()
	return res
}
