package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPayloadKey returns the cache key for an exam's student-facing payload
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamAnswerKey returns the cache key for an exam's grading key
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// AttemptMetaKey returns the cache key holding an attempt's exam id and
// start/submit instants
func (r *CacheKeyStruct) AttemptMetaKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:meta", attemptID)
}

// AttemptViolationsKey returns the counter of violations reported for an attempt
func (r *CacheKeyStruct) AttemptViolationsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:violations", attemptID)
}

// AttemptAnswersKey returns the hash key of an attempt's answers
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptQuestionOrderKey returns the cache key of an attempt's frozen question order
func (r *CacheKeyStruct) AttemptQuestionOrderKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:question_order", attemptID)
}

// AttemptRateKey returns the rate limiter bucket key for an attempt's writes
func (r *CacheKeyStruct) AttemptRateKey(attemptID string) string {
	return fmt.Sprintf("ratelimit:attempt:%s", attemptID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
