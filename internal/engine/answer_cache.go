package engine

import (
	"github.com/stemsi/exstem-engine/internal/model"
)

// AnswerCache is the local, authoritative answer state of one attempt.
// It is confined to the engine loop and is not safe for concurrent use.
type AnswerCache struct {
	records map[string]*model.AnswerRecord
	values  map[string]AnswerValue
	times   map[string]int
	marked  map[string]bool
}

func newAnswerCache() *AnswerCache {
	return &AnswerCache{
		records: make(map[string]*model.AnswerRecord),
		values:  make(map[string]AnswerValue),
		times:   make(map[string]int),
		marked:  make(map[string]bool),
	}
}

// Record overwrites the answer for questionID and returns the sync payload.
func (c *AnswerCache) Record(questionID string, v AnswerValue) model.AnswerSync {
	rec, ok := c.records[questionID]
	if !ok {
		rec = &model.AnswerRecord{QuestionID: questionID}
		c.records[questionID] = rec
	}
	rec.Value = v.Raw()
	rec.TimeSpentSeconds = c.times[questionID]
	rec.IsMarkedForReview = c.marked[questionID]
	c.values[questionID] = v
	return v.Sync(questionID, rec.TimeSpentSeconds, rec.IsMarkedForReview)
}

// Restore seeds the cache from a persisted answer.
func (c *AnswerCache) Restore(v AnswerValue, s model.AnswerSync) {
	c.times[s.QuestionID] = s.TimeSpentSeconds
	c.marked[s.QuestionID] = s.IsMarkedForReview
	c.Record(s.QuestionID, v)
}

// AddTime accrues seconds on questionID whether or not it has been answered.
func (c *AnswerCache) AddTime(questionID string, seconds int) {
	if seconds <= 0 {
		return
	}
	c.times[questionID] += seconds
	if rec, ok := c.records[questionID]; ok {
		rec.TimeSpentSeconds = c.times[questionID]
	}
}

// ToggleReview flips the review flag. When the question already has an
// answer, the updated payload is returned for syncing; otherwise sync is nil.
func (c *AnswerCache) ToggleReview(questionID string) (marked bool, sync *model.AnswerSync) {
	marked = !c.marked[questionID]
	if marked {
		c.marked[questionID] = true
	} else {
		delete(c.marked, questionID)
	}

	rec, ok := c.records[questionID]
	if !ok {
		return marked, nil
	}
	rec.IsMarkedForReview = marked
	p := c.values[questionID].Sync(questionID, rec.TimeSpentSeconds, marked)
	return marked, &p
}

// Get returns a copy of the record for questionID.
func (c *AnswerCache) Get(questionID string) (model.AnswerRecord, bool) {
	rec, ok := c.records[questionID]
	if !ok {
		return model.AnswerRecord{}, false
	}
	return *rec, true
}

// Answered reports whether questionID has a non-empty value.
func (c *AnswerCache) Answered(questionID string) bool {
	rec, ok := c.records[questionID]
	return ok && rec.Value != ""
}

// Marked reports whether questionID is marked for review.
func (c *AnswerCache) Marked(questionID string) bool {
	return c.marked[questionID]
}

// TimeSpent returns accumulated seconds on questionID.
func (c *AnswerCache) TimeSpent(questionID string) int {
	return c.times[questionID]
}
