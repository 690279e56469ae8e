package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"trivia-duel-service/internal/app"
	"trivia-duel-service/internal/config"
	"trivia-duel-service/internal/domain"
	"trivia-duel-service/internal/infra/memory"
	pgbank "trivia-duel-service/internal/infra/postgres"
	redisinfra "trivia-duel-service/internal/infra/redis"
	transport "trivia-duel-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia duel server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	cacheTTL := config.Duration(cfg.Quiz.CacheTTL, 10*time.Minute)
	var questions app.QuestionSource = memory.NewStaticQuestionSource(sampleQuestions())
	if pool != nil {
		bank := pgbank.NewQuestionBank(pool)
		if redisClient != nil {
			questions = redisinfra.NewQuestionCache(redisClient, bank, cacheTTL)
		} else {
			questions = bank
		}
	}

	var store app.GameStore = memory.NewGameStore()
	if redisClient != nil {
		store = redisinfra.NewGameStore(redisClient)
	}

	duelCfg := app.DuelConfig{
		QuestionTime:      config.Duration(cfg.Quiz.QuestionTime, 15*time.Second),
		RoundsPerDuel:     cfg.Quiz.RoundsPerDuel,
		QuestionsPerRound: cfg.Quiz.QuestionsPerRound,
	}
	duels := app.NewDuelService(store, questions, duelCfg)

	soloCfg := app.SoloConfig{
		QuestionTime: config.Duration(cfg.Quiz.QuestionTime, 15*time.Second),
	}
	wsHandler := transport.NewWSHandler(duels, questions, soloCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting trivia duel service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestions keeps the service playable without a database; seed a
// Postgres bank for real content.
func sampleQuestions() []domain.QuestionRecord {
	return []domain.QuestionRecord{
		{ID: "q1", Text: "What is the largest planet in the solar system?", CorrectAnswer: "Jupiter", Decoys: []string{"Saturn", "Neptune"}, Category: "Science"},
		{ID: "q2", Text: "Which element has the symbol O?", CorrectAnswer: "Oxygen", Decoys: []string{"Gold", "Osmium"}, Category: "Science"},
		{ID: "q3", Text: "Who painted the Mona Lisa?", CorrectAnswer: "Leonardo da Vinci", Decoys: []string{"Michelangelo", "Raphael"}, Category: "General"},
		{ID: "q4", Text: "What is the capital of Australia?", CorrectAnswer: "Canberra", Decoys: []string{"Sydney", "Melbourne"}, Category: "General"},
		{ID: "q5", Text: "How many strings does a standard guitar have?", CorrectAnswer: "Six", Decoys: []string{"Four", "Seven"}, Category: "Music"},
		{ID: "q6", Text: "Which composer wrote the Ninth Symphony?", CorrectAnswer: "Beethoven", Decoys: []string{"Mozart", "Bach"}, Category: "Music"},
		{ID: "q7", Text: "In which movie does the character Jack Dawson appear?", CorrectAnswer: "Titanic", Decoys: []string{"The Revenant", "Inception"}, Category: "Movies"},
		{ID: "q8", Text: "What has keys but opens no locks?", CorrectAnswer: "A piano", Decoys: []string{"A map", "A clock"}, Category: "Riddles"},
		{ID: "q9", Text: "What gets wetter the more it dries?", CorrectAnswer: "A towel", Decoys: []string{"A sponge", "An umbrella"}, Category: "Riddles"},
		{ID: "q10", Text: "What is the boiling point of water at sea level?", CorrectAnswer: "100 °C", Decoys: []string{"90 °C", "120 °C"}, Category: "Science"},
		{ID: "q11", Text: "Which country invented pizza?", CorrectAnswer: "Italy", Decoys: []string{"Greece", "Spain"}, Category: "Cooking"},
		{ID: "q12", Text: "Which novel features the character Atticus Finch?", CorrectAnswer: "To Kill a Mockingbird", Decoys: []string{"The Great Gatsby", "1984"}, Category: "General"},
		{ID: "q13", Text: "What is the longest river in the world?", CorrectAnswer: "The Nile", Decoys: []string{"The Amazon", "The Yangtze"}, Category: "General"},
		{ID: "q14", Text: "Which gas do plants absorb from the atmosphere?", CorrectAnswer: "Carbon dioxide", Decoys: []string{"Oxygen", "Nitrogen"}, Category: "Science"},
		{ID: "q15", Text: "Which instrument has 88 keys?", CorrectAnswer: "Piano", Decoys: []string{"Organ", "Accordion"}, Category: "Music"},
		{ID: "q16", Text: "Who directed the movie Jaws?", CorrectAnswer: "Steven Spielberg", Decoys: []string{"George Lucas", "Martin Scorsese"}, Category: "Movies"},
	}
}
