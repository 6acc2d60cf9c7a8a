package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

type EventType string

const (
	EventPush        EventType = "push"
	EventPullRequest EventType = "pull_request"
	EventCreate      EventType = "create"
	EventDelete      EventType = "delete"
	EventRepository  EventType = "repository"
	EventPing        EventType = "ping"
)

// syncTriggers is the set of event types that invoke synchronization.
var syncTriggers = map[EventType]bool{
	EventPush:        true,
	EventPullRequest: true,
	EventCreate:      true,
	EventDelete:      true,
	EventRepository:  true,
}

// Event is the routed form of a verified inbound payload. It is derived
// per request and not persisted beyond the sync run it triggers.
type Event struct {
	Type         EventType
	RepoFullName string
	Branch       string
	HeadCommit   string
	Files        []string
	TagRef       bool
}

// SyncTrigger reports whether this event should invoke synchronization.
// Tag create/delete events are not branch changes and never trigger.
func (e *Event) SyncTrigger() bool {
	return syncTriggers[e.Type] && !e.TagRef
}

type pushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	HeadCommit struct {
		ID string `json:"id"`
	} `json:"head_commit"`
	Commits []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

type pullRequestPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
}

type refPayload struct {
	Ref        string `json:"ref"`
	RefType    string `json:"ref_type"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type genericPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// ParseEvent decodes only the fields needed to route an event. A missing
// repository full name is a terminal parse failure; optional fields that
// fail to parse leave the corresponding output empty.
func ParseEvent(eventType string, payload []byte) (*Event, error) {
	ev := &Event{Type: EventType(eventType)}

	switch ev.Type {
	case EventPush:
		var p pushPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("parse push payload: %w", err)
		}
		ev.RepoFullName = p.Repository.FullName
		ev.Branch = strings.TrimPrefix(p.Ref, "refs/heads/")
		ev.HeadCommit = p.HeadCommit.ID
		seen := make(map[string]bool)
		for _, commit := range p.Commits {
			for _, group := range [][]string{commit.Added, commit.Modified, commit.Removed} {
				for _, path := range group {
					if !seen[path] {
						seen[path] = true
						ev.Files = append(ev.Files, path)
					}
				}
			}
		}

	case EventPullRequest:
		var p pullRequestPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("parse pull_request payload: %w", err)
		}
		ev.RepoFullName = p.Repository.FullName
		ev.Branch = p.PullRequest.Head.Ref
		ev.HeadCommit = p.PullRequest.Head.SHA

	case EventCreate, EventDelete:
		var p refPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("parse %s payload: %w", eventType, err)
		}
		ev.RepoFullName = p.Repository.FullName
		if p.RefType == "tag" {
			ev.TagRef = true
		} else {
			ev.Branch = p.Ref
		}

	default:
		var p genericPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("parse %s payload: %w", eventType, err)
		}
		ev.RepoFullName = p.Repository.FullName
	}

	if ev.RepoFullName == "" {
		return nil, fmt.Errorf("parse %s payload: missing repository full name", eventType)
	}

	return ev, nil
}
