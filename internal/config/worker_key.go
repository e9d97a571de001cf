package config

// WorkerKeyStruct names the Redis lists feeding the background workers.
type WorkerKeyStruct struct {
	PersistAnswersQueue       string
	PersistViolationsQueue    string
	ScoreAttemptsQueue        string
	PersistQuestionOrderQueue string
}

// Queues lists every worker queue, in a stable order.
func (k *WorkerKeyStruct) Queues() []string {
	return []string{
		k.PersistAnswersQueue,
		k.PersistViolationsQueue,
		k.PersistQuestionOrderQueue,
		k.ScoreAttemptsQueue,
	}
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue:       "persist_answers_queue",
	PersistViolationsQueue:    "persist_violations_queue",
	ScoreAttemptsQueue:        "score_attempts_queue",
	PersistQuestionOrderQueue: "persist_question_order_queue",
}
