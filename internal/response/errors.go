package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam ──────────────────────────────────────────────────────────
	ErrExamNotPublished ErrCode = "EXAM_NOT_PUBLISHED"
	ErrNoQuestions      ErrCode = "NO_QUESTIONS"
	ErrExamNotDraft     ErrCode = "EXAM_NOT_DRAFT"
	ErrInvalidQuestion  ErrCode = "INVALID_QUESTION"

	// ─── Attempt ───────────────────────────────────────────────────────
	ErrAttemptNotStarted ErrCode = "ATTEMPT_NOT_STARTED"
	ErrAttemptSubmitted  ErrCode = "ATTEMPT_SUBMITTED"
	ErrAttemptExpired    ErrCode = "ATTEMPT_EXPIRED"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidAnswer     ErrCode = "INVALID_ANSWER"
	ErrResultPending     ErrCode = "RESULT_PENDING"
	ErrNotSubmitted      ErrCode = "ATTEMPT_NOT_SUBMITTED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Exam ──────────────────────────────────────────────────────────
	case ErrExamNotPublished:
		return "Ujian ini belum dipublikasikan."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."
	case ErrExamNotDraft:
		return "Hanya ujian berstatus draf yang dapat dipublikasikan."
	case ErrInvalidQuestion:
		return "Data soal tidak valid."

	// ─── Attempt ───────────────────────────────────────────────────────
	case ErrAttemptNotStarted:
		return "Pengerjaan ujian belum dimulai."
	case ErrAttemptSubmitted:
		return "Pengerjaan ujian sudah dikumpulkan."
	case ErrAttemptExpired:
		return "Waktu pengerjaan ujian telah habis."
	case ErrUnknownQuestion:
		return "Soal tidak termasuk dalam ujian ini."
	case ErrInvalidAnswer:
		return "Jawaban tidak sesuai dengan jenis soal."
	case ErrResultPending:
		return "Hasil ujian sedang dinilai."
	case ErrNotSubmitted:
		return "Pengerjaan ujian belum dikumpulkan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
