package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
)

func newPolicyMongo() *Mongo {
	return &Mongo{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// lostReply fails with a network error first, then reports the write's own
// effect as a missing document.
func lostReply(calls *int) func() error {
	return func() error {
		*calls++
		if *calls == 1 {
			return errors.New("connection reset by peer")
		}
		return mongo.ErrNoDocuments
	}
}

func TestOnceSurfacesFirstFailure(t *testing.T) {
	s := newPolicyMongo()
	calls := 0

	err := s.once("take_unconfirmed", lostReply(&calls))

	assert.Equal(t, 1, calls)
	assert.EqualError(t, err, "connection reset by peer")
	assert.NotErrorIs(t, err, mongo.ErrNoDocuments)
	assert.False(t, mongo.IsDuplicateKeyError(err))
}

func TestOncePassesAnswersThrough(t *testing.T) {
	s := newPolicyMongo()

	err := s.once("take_confirmed", func() error { return mongo.ErrNoDocuments })

	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestDoRetriesReads(t *testing.T) {
	s := newPolicyMongo()
	calls := 0

	err := s.do(context.Background(), "find_topic", func() error {
		calls++
		if calls < 3 {
			return errors.New("server selection timeout")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnAnswer(t *testing.T) {
	s := newPolicyMongo()
	calls := 0

	err := s.do(context.Background(), "find_topic", lostReply(&calls))

	// A retried write would misreport here, which is why state changes use once.
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
	assert.Equal(t, 2, calls)
}
