package domain

import (
	"context"
	"time"
)

// State is a user's position in the registration and coaching flow.
type State string

const (
	StateStarted         State = "started"
	StateAwaitingEmail   State = "awaiting_email"
	StateAwaitingCode    State = "awaiting_code"
	StateVerified        State = "verified"
	StateAwaitingCase    State = "awaiting_case"
	StateStageOne        State = "stage_1"
	StateAwaitingIssues  State = "awaiting_issues"
	StateStageTwo        State = "stage_2"
	StateAwaitingAspects State = "awaiting_aspects"
	StateStageThree      State = "stage_3"
)

// Registered reports whether the user has completed email verification.
func (s State) Registered() bool {
	switch s {
	case StateStarted, StateAwaitingEmail, StateAwaitingCode:
		return false
	}
	return true
}

// Stage reports whether the user is inside a coaching conversation.
func (s State) Stage() bool {
	return s == StateStageOne || s == StateStageTwo || s == StateStageThree
}

// User is one registered (or registering) student. Key is the channel-scoped
// sender identity ("telegram:12345"); all state the coaching flow needs
// between messages lives here.
type User struct {
	Key              string
	ChatID           string
	Email            string
	VerificationCode string
	State            State
	CaseText         string
	IssuesText       string
	AspectsText      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MessageRecord is one stored line of a stage conversation.
type MessageRecord struct {
	ID        int64
	UserKey   string
	Stage     State
	Role      string // user | assistant
	Content   string
	CreatedAt time.Time
}

// UserStore persists users and their per-stage conversation history.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, key string) (*User, error)
	UpdateUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, key string) error

	AddMessage(ctx context.Context, rec MessageRecord) error
	GetMessages(ctx context.Context, userKey string, stage State, limit int) ([]MessageRecord, error)
	ClearMessages(ctx context.Context, userKey string, stage State) error

	Close() error
}
