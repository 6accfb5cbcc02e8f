package search

import (
	"charsearch/internal/app/fallback"
	"charsearch/internal/domain/character"
	"charsearch/internal/domain/view"
)

const (
	loadingText       = "Loading..."
	errorText         = "Error :("
	notFoundText      = "Character not found."
	fallbackFraming   = "But how about this character instead?"
	fallbackNoData    = "No data."
	fallbackErrorText = errorText
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusSucceeded Status = "succeeded"
)

// Snapshot is the state a render pass reads.
type Snapshot struct {
	SessionID  string                `json:"session_id,omitempty"`
	Term       string                `json:"term"`
	Generation uint64                `json:"generation"`
	Status     Status                `json:"status"`
	Err        error                 `json:"-"`
	Characters []character.Character `json:"characters,omitempty"`
	Fallback   *fallback.Outcome     `json:"fallback,omitempty"`
}

// Render maps a snapshot to its display tree. It has no side effects.
func Render(s Snapshot) view.Node {
	switch s.Status {
	case StatusFailed:
		return view.Node{Kind: view.KindError, Text: errorText}
	case StatusSucceeded:
		if len(s.Characters) == 0 {
			return renderEmpty(s.Fallback)
		}
		list := view.Node{Kind: view.KindList, Children: make([]view.Node, 0, len(s.Characters))}
		for _, c := range s.Characters {
			list.Children = append(list.Children, Card(c))
		}
		return list
	default:
		return view.Node{Kind: view.KindLoading, Text: loadingText}
	}
}

func renderEmpty(out *fallback.Outcome) view.Node {
	n := view.Node{
		Kind:     view.KindEmpty,
		Children: []view.Node{{Kind: view.KindNotice, Text: notFoundText}},
	}
	if out == nil {
		return n
	}
	switch out.Status {
	case fallback.StatusPending:
		n.Children = append(n.Children, view.Node{Kind: view.KindLoading, Text: loadingText})
	case fallback.StatusFailed:
		n.Children = append(n.Children, view.Node{Kind: view.KindError, Text: fallbackErrorText})
	case fallback.StatusNotFound:
		n.Children = append(n.Children, view.Node{Kind: view.KindNotice, Text: fallbackNoData})
	case fallback.StatusFound:
		if out.Character != nil {
			n.Children = append(n.Children, view.Node{
				Kind:     view.KindFallback,
				Text:     fallbackFraming,
				Children: []view.Node{Card(*out.Character)},
			})
		}
	case fallback.StatusUnavailable:
		// nothing to offer; the notice stands alone
	}
	return n
}

// Card is the display record for one character.
func Card(c character.Character) view.Node {
	return view.Node{
		Kind:  view.KindCard,
		Key:   c.Key(),
		Text:  c.Name,
		Image: c.Image,
		Children: []view.Node{
			field("Status", c.Status),
			field("Species", c.Species),
			field("Type", c.Type),
			field("Gender", c.Gender),
			field("Origin", c.Origin.Name),
			field("Location", c.Location.Name),
		},
	}
}

func field(label, text string) view.Node {
	return view.Node{Kind: view.KindField, Label: label, Text: text}
}
