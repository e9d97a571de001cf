package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
)

func main() {
	var (
		attempts  int
		duration  int
		randomize bool
		withhold  bool
	)
	flag.IntVar(&attempts, "attempts", 5, "Number of attempts to create")
	flag.IntVar(&duration, "duration", 30, "Exam duration in minutes")
	flag.BoolVar(&randomize, "randomize", true, "Shuffle question order per attempt")
	flag.BoolVar(&withhold, "withhold-results", false, "Hide scores from students")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	examService := service.NewExamService(repository.NewExamRepository(pool), repository.NewQuestionRepository(pool), rdb, log)
	attemptService := service.NewAttemptService(repository.NewAttemptRepository(pool), repository.NewResultRepository(pool), examService, rdb, log)

	fmt.Println("=== Seeding demo exam ===")

	exam := &model.Exam{
		Title:              "Ujian Sains Terpadu (Demo)",
		DurationMinutes:    duration,
		RandomizeQuestions: randomize,
		MaxViolations:      3,
		FullscreenRequired: true,
		ShowResults:        !withhold,
	}
	if err := examService.CreateDraft(ctx, exam, demoQuestions()); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}
	if err := examService.Publish(ctx, exam.ID); err != nil {
		log.Fatal().Err(err).Msg("Failed to publish exam")
	}
	fmt.Printf("Published exam %s\n\n", exam.ID)

	created := 0
	for i := 0; i < attempts; i++ {
		ref := fmt.Sprintf("student-%03d", i+1)
		a, err := attemptService.Create(ctx, exam.ID, ref)
		if err != nil {
			fmt.Printf("Error creating attempt for %s: %v\n", ref, err)
			continue
		}
		created++
		fmt.Printf("  %s  %s\n", ref, a.ID)
	}

	fmt.Printf("\nSeed completed! Created %d/%d attempts.\n", created, attempts)
	fmt.Println("Run one with: go run ./cmd/attempt -attempt <attempt_id>")
}

// demoQuestions covers every question type and both marking schemes.
func demoQuestions() []model.QuestionRecord {
	return []model.QuestionRecord{
		{
			SectionID: "fisika",
			Text:      "Satuan SI untuk gaya adalah...",
			Type:      model.QuestionTypeMCQ,
			Options: []model.OptionKey{
				{Text: "Joule"},
				{Text: "Newton", IsCorrect: true},
				{Text: "Watt"},
				{Text: "Pascal"},
			},
			Marks:         4,
			NegativeMarks: 1,
		},
		{
			SectionID:        "fisika",
			Text:             "Percepatan gravitasi standar di permukaan bumi (m/s²)?",
			Type:             model.QuestionTypeNumerical,
			AcceptedAnswers:  []string{"9.81"},
			NumericTolerance: 0.05,
			Marks:            4,
			NegativeMarks:    1,
		},
		{
			SectionID: "biologi",
			Text:      "Mitokondria adalah tempat terjadinya respirasi sel.",
			Type:      model.QuestionTypeTrueFalse,
			Options: []model.OptionKey{
				{Text: "Benar", IsCorrect: true},
				{Text: "Salah"},
			},
			Marks: 2,
		},
		{
			SectionID:       "biologi",
			Text:            "Proses tumbuhan mengubah cahaya menjadi energi kimia disebut...",
			Type:            model.QuestionTypeFillBlank,
			AcceptedAnswers: []string{"fotosintesis", "photosynthesis"},
			Marks:           3,
		},
		{
			SectionID: "kimia",
			Text:      "Rumus kimia air adalah...",
			Type:      model.QuestionTypeMCQ,
			Options: []model.OptionKey{
				{Text: "CO2"},
				{Text: "H2O", IsCorrect: true},
				{Text: "NaCl"},
			},
			Marks: 2,
		},
		{
			SectionID:        "kimia",
			Text:             "Nilai pH larutan netral pada 25°C?",
			Type:             model.QuestionTypeNumerical,
			AcceptedAnswers:  []string{"7"},
			NumericTolerance: 0,
			Marks:            2,
		},
	}
}
