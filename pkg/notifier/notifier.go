// Package notifier contains the core domain types for the topic subscription service.
package notifier

import (
	"errors"
	"time"
)

var (
	// ErrTopicNotFound is returned when a topic cannot be resolved.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrInvalidEmail is returned when an email address is malformed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrNotFound is returned when no subscription record matches.
	ErrNotFound = errors.New("record not found")
)

// Topic is an externally administered notification channel.
type Topic struct {
	ID          string `json:"id" bson:"_id"`
	TemplateID  string `json:"templateId" bson:"templateId"`
	NotifyKey   string `json:"notifyKey" bson:"notifyKey"`
	ConfirmURL  string `json:"confirmURL" bson:"confirmURL"`   // After confirmation
	UnsubURL    string `json:"unsubURL" bson:"unsubURL"`       // After unsubscribe
	ThankURL    string `json:"thankURL" bson:"thankURL"`       // After subscribe request
	FailURL     string `json:"failURL" bson:"failURL"`         // Unexpected failure
	InputErrURL string `json:"inputErrURL" bson:"inputErrURL"` // Malformed input
}

// Marker asserts that an email has an active relationship with a topic.
type Marker struct {
	Email   string `json:"email" bson:"email"`
	TopicID string `json:"topicId" bson:"topicId"`
}

// Unconfirmed is a subscription waiting for email confirmation.
type Unconfirmed struct {
	NotBefore  time.Time `json:"notBefore" bson:"notBefore"` // Earliest next resend
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
	Email      string    `json:"email" bson:"email"`
	Subscode   string    `json:"subscode" bson:"subscode"`
	TopicID    string    `json:"topicId" bson:"topicId"`
	TemplateID string    `json:"templateId" bson:"templateId"`
	NotifyKey  string    `json:"notifyKey" bson:"notifyKey"`
	ConfirmURL string    `json:"confirmURL" bson:"confirmURL"`
}

// Confirmed is an active subscription.
type Confirmed struct {
	Email    string `json:"email" bson:"email"`
	Subscode string `json:"subscode" bson:"subscode"`
	TopicID  string `json:"topicId" bson:"topicId"`
}

// Tombstone records that an email left a topic.
type Tombstone struct {
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	Email     string    `json:"email" bson:"email"`
	TopicID   string    `json:"topicId" bson:"topicId"`
}

// AuditKind names the lifecycle event an AuditEntry describes.
type AuditKind string

const (
	AuditSubscribe   AuditKind = "subsEmail"
	AuditConfirm     AuditKind = "confirmEmail"
	AuditResend      AuditKind = "resendEmail"
	AuditUnsubscribe AuditKind = "unsubsEmail"
)

// AuditEntry is one lifecycle event appended to an email's log.
type AuditEntry struct {
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	Kind      AuditKind `json:"kind" bson:"-"`
	Email     string    `json:"email" bson:"-"`
	TopicID   string    `json:"topicId" bson:"topicId"`
	Subscode  string    `json:"subscode,omitempty" bson:"subscode,omitempty"`
	WithEmail *bool     `json:"withEmail,omitempty" bson:"withEmail,omitempty"` // Resend only
}

// NotificationFailure records a rejected send for a template.
type NotificationFailure struct {
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
	TemplateID string    `json:"templateId" bson:"-"`
	Cause      string    `json:"e" bson:"e"`
}

// InsertResult is the outcome of an insert-if-absent.
type InsertResult int

const (
	Created InsertResult = iota
	AlreadyExists
)

func (r InsertResult) String() string {
	if r == AlreadyExists {
		return "already_exists"
	}
	return "created"
}

// Target names where a lifecycle operation sends the caller.
type Target string

const (
	TargetThanks       Target = "thank_you"
	TargetInputError   Target = "input_error"
	TargetTopicFailure Target = "topic_failure"
	TargetError        Target = "generic_error"
	TargetConfirmed    Target = "confirm_redirect"
	TargetUnsubscribed Target = "unsubscribe_redirect"
)

// Redirect is the caller-visible result of a lifecycle operation.
type Redirect struct {
	Target Target
	URL    string
}

// OK reports whether the redirect is a success target.
func (r Redirect) OK() bool {
	switch r.Target {
	case TargetThanks, TargetConfirmed, TargetUnsubscribed:
		return true
	default:
		return false
	}
}
