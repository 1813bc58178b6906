package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/triviaroom/go/internal/assets"
	"github.com/mcdev12/triviaroom/go/internal/dbconfig"
	"github.com/mcdev12/triviaroom/go/internal/questions"
	flag "github.com/spf13/pflag"
)

func main() {
	file := flag.String("file", "", "YAML question bank (defaults to the embedded sample)")
	flag.Parse()

	// 1) Load the question bank
	var (
		bank *questions.Bank
		err  error
	)
	if *file != "" {
		bank, err = questions.LoadBankFile(*file)
	} else {
		bank, err = questions.ParseBank(bytes.NewReader(assets.QuestionBank))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load bank: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Import, skipping questions already present
	total := 0
	for _, s := range bank.Subjects {
		total += len(s.Questions)
	}
	inserted, err := questions.Import(context.Background(), pool, bank)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed after %d questions: %v\n", inserted, err)
		os.Exit(1)
	}

	// 4) Print summary
	fmt.Printf(
		"Questions seed complete: %d subjects, %d total, %d inserted, %d skipped\n",
		len(bank.Subjects), total, inserted, total-inserted,
	)
}
