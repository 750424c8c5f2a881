// Package staging holds the per-cycle scratch space the pipeline stages use
// to hand keys, rows and documents to each other.
package staging

import (
	"fmt"
	"time"

	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
)

// Topic names a list of staged items.
type Topic string

const (
	TopicWatermark Topic = "last_checkup"

	TopicFilmIDs   Topic = "film_ids"
	TopicGenreIDs  Topic = "genre_ids"
	TopicPersonIDs Topic = "person_ids"

	TopicMovieRows  Topic = "movies_rows"
	TopicGenreRows  Topic = "genres_rows"
	TopicPersonRows Topic = "persons_rows"

	TopicMovieDocs  Topic = "movies_docs"
	TopicGenreDocs  Topic = "genres_docs"
	TopicPersonDocs Topic = "persons_docs"
)

// Channel maps topics to the items staged during one cycle. It is not safe
// for concurrent use and is not durable: a crash loses everything staged.
type Channel struct {
	topics map[Topic][]any
}

func New() *Channel {
	return &Channel{topics: make(map[Topic][]any)}
}

// NewWithWatermark returns a channel seeded with the cycle's starting
// watermark.
func NewWithWatermark(mark time.Time) *Channel {
	ch := New()
	ch.Push(TopicWatermark, mark)
	return ch
}

// Get returns the items staged under topic, oldest first, or nil.
func (c *Channel) Get(topic Topic) []any {
	return c.topics[topic]
}

// Push appends item to topic.
func (c *Channel) Push(topic Topic, item any) {
	c.topics[topic] = append(c.topics[topic], item)
}

// Len returns the number of items staged under topic.
func (c *Channel) Len(topic Topic) int {
	return len(c.topics[topic])
}

// Drop removes the given topics.
func (c *Channel) Drop(topics ...Topic) {
	for _, topic := range topics {
		delete(c.topics, topic)
	}
}

// Clear drops every topic.
func (c *Channel) Clear() {
	clear(c.topics)
}

// Items returns every item of topic as T. A staged item of another type is
// reported as invalid data.
func Items[T any](c *Channel, topic Topic) ([]T, error) {
	raw := c.topics[topic]
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		v, ok := item.(T)
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrInvalidData, "staging", "topic %s item %d is %T, want %T", topic, i, item, v)
		}
		out = append(out, v)
	}
	return out, nil
}

// Pop removes and returns the latest item of topic. ok is false when the
// topic is empty.
func Pop[T any](c *Channel, topic Topic) (item T, ok bool, err error) {
	raw := c.topics[topic]
	if len(raw) == 0 {
		return item, false, nil
	}
	last := raw[len(raw)-1]
	v, isT := last.(T)
	if !isT {
		return item, false, apperrors.Newf(apperrors.ErrInvalidData, "staging", "topic %s holds %T, want %T", topic, last, item)
	}
	c.topics[topic] = raw[:len(raw)-1]
	return v, true, nil
}

// Watermark returns the cycle's starting watermark.
func (c *Channel) Watermark() (time.Time, error) {
	marks, err := Items[time.Time](c, TopicWatermark)
	if err != nil {
		return time.Time{}, err
	}
	if len(marks) == 0 {
		return time.Time{}, fmt.Errorf("staging: no watermark staged")
	}
	return marks[len(marks)-1], nil
}
