// Command quizbot plays multiplayer trivia against a triviaroom server. It
// either hosts a new room or joins an existing one, readies up, answers every
// question after a random delay and prints the final standings.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/triviaroom/go/clients/triviaroom_client"
	"github.com/mcdev12/triviaroom/go/internal/identity"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/questions"
	"github.com/mcdev12/triviaroom/go/internal/room"
	"github.com/mcdev12/triviaroom/go/internal/roomsync"
	"github.com/mcdev12/triviaroom/go/internal/statestore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	server       string
	roomID       string
	identityFile string
	name         string
	subjects     []int64
	count        int
	maxPlayers   int
	accuracy     float64
	maxDelay     time.Duration
	policy       string
	record       bool
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	opts := &options{}
	cmd := &cobra.Command{
		Use:           "quizbot",
		Short:         "Host or join a trivia room and play it automatically.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return play(ctx, opts)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.server, "server", "s", triviaroom_client.DefaultServerBaseURL, "triviaroom server URL")
	fs.StringVarP(&opts.roomID, "room", "r", "", "room to join; hosts a new room when empty")
	fs.StringVar(&opts.identityFile, "identity", ".quizbot.yaml", "file keeping the bot's user id and name")
	fs.StringVarP(&opts.name, "name", "n", "", "display name (saved to the identity file)")
	fs.Int64SliceVar(&opts.subjects, "subjects", nil, "subject ids to draw questions from when hosting (default: all)")
	fs.IntVar(&opts.count, "count", 5, "questions per game when hosting")
	fs.IntVar(&opts.maxPlayers, "max-players", room.DefaultMaxPlayers, "room capacity when hosting")
	fs.Float64Var(&opts.accuracy, "accuracy", 0.7, "probability of picking the correct answer")
	fs.DurationVar(&opts.maxDelay, "max-delay", 8*time.Second, "longest think time per question")
	fs.StringVar(&opts.policy, "coordinator-policy", string(roomsync.PolicyHostOnly), "host_only or lowest_online")
	fs.BoolVar(&opts.record, "record", true, "credit the finished game to the weekly ranking")

	cobra.CheckErr(cmd.Execute())
}

func play(ctx context.Context, opts *options) error {
	id, err := identity.LoadOrCreate(opts.identityFile)
	if err != nil {
		return err
	}
	if opts.name != "" {
		if err := id.SetName(opts.name); err != nil {
			return err
		}
	}
	policy, err := roomsync.ParseCoordinatorPolicy(opts.policy)
	if err != nil {
		return err
	}

	api := triviaroom_client.NewClient(opts.server)
	store, err := statestore.DialRemote(ctx, api.WebSocketURL(), 10*time.Second)
	if err != nil {
		return err
	}
	defer store.Close()

	repo := room.NewRepository(store, clockwork.NewRealClock(), room.JoinAdvisory)
	playerID, name := id.ID(), id.Name()

	roomID := opts.roomID
	hosting := roomID == ""
	if hosting {
		roomID, err = hostRoom(ctx, api, repo, opts, playerID, name)
		if err != nil {
			return err
		}
	} else if err := repo.JoinRoom(ctx, roomID, playerID, name); err != nil {
		return err
	}

	client := roomsync.NewClient(repo, roomsync.ClientConfig{
		RoomID:   roomID,
		PlayerID: playerID,
		Policy:   policy,
	})
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Stop()

	if err := repo.SetPlayerReady(ctx, roomID, playerID, true); err != nil {
		return err
	}
	log.Info().Str("room_id", roomID).Str("player", name).Msg("ready")

	b := &bot{opts: opts, client: client, playerID: playerID}
	if hosting {
		go b.startWhenReady(ctx, repo, roomID)
	}

	final, err := b.run(ctx)
	if err != nil {
		return err
	}
	printStandings(final)

	if opts.record && final != nil && final.Status == models.RoomStatusFinished {
		// The room must be marked finished on the server before recording.
		res, err := api.RecordRoomGame(ctx, roomID, playerID)
		if err != nil {
			return err
		}
		fmt.Printf("recorded %d XP (score %d, speed bonus %d)\n", res.Record.XPGained, res.Score, res.SpeedBonus)
		if pos, err := api.Position(ctx, playerID); err == nil {
			fmt.Printf("weekly position: #%d with %d XP\n", pos.Position, pos.WeeklyXP)
		}
	}
	return nil
}

func hostRoom(ctx context.Context, api *triviaroom_client.Client, repo *room.Repository, opts *options, playerID, name string) (string, error) {
	ids := opts.subjects
	if len(ids) == 0 {
		subjects, err := api.Subjects(ctx)
		if err != nil {
			return "", err
		}
		for _, s := range subjects {
			ids = append(ids, s.ID)
		}
	}
	picks := make([]questions.SubjectPick, len(ids))
	for i, sid := range ids {
		picks[i] = questions.SubjectPick{SubjectID: sid, Count: opts.count}
	}
	game, err := api.ResolveSubjects(ctx, picks, opts.count)
	if err != nil {
		return "", err
	}

	roomID, err := repo.CreateRoom(ctx, room.CreateRoomRequest{
		HostID:     playerID,
		HostName:   name,
		Questions:  game.Questions,
		MaxPlayers: opts.maxPlayers,
		RoomName:   name + "'s quiz",
		Subjects:   game.SubjectNames,
	})
	if err != nil {
		return "", err
	}
	fmt.Printf("room %s created, share %s\n", roomID, room.ShareURL(opts.server, roomID))
	return roomID, nil
}

type bot struct {
	opts     *options
	client   *roomsync.Client
	playerID string
}

// startWhenReady polls the local snapshot and starts the game once every
// player is ready.
func (b *bot) startWhenReady(ctx context.Context, repo *room.Repository, roomID string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := b.client.Room()
			if r == nil || r.Status != models.RoomStatusWaiting {
				if r != nil {
					return
				}
				continue
			}
			if roomsync.CanStart(r, b.playerID) {
				if err := repo.StartGame(ctx, roomID); err != nil {
					log.Error().Err(err).Str("room_id", roomID).Msg("failed to start game")
				}
				return
			}
		}
	}
}

// run answers questions until the game ends and returns the last snapshot.
func (b *bot) run(ctx context.Context) (*models.Room, error) {
	for {
		select {
		case <-ctx.Done():
			return b.client.Room(), ctx.Err()
		case tr, ok := <-b.client.Events():
			if !ok {
				return b.client.Room(), nil
			}
			log.Debug().Str("transition", tr.Kind.String()).Int("question", tr.QuestionIndex).Msg("room transition")
			switch tr.Kind {
			case roomsync.TransitionRoomDeleted:
				return nil, errors.New("room was deleted")
			case roomsync.TransitionPlayerRemoved:
				return nil, errors.New("removed from room")
			case roomsync.TransitionGameStarted, roomsync.TransitionQuestionChanged:
				go b.answer(ctx, tr)
			case roomsync.TransitionGameFinished:
				return tr.Room, nil
			}
		}
	}
}

func (b *bot) answer(ctx context.Context, tr roomsync.Transition) {
	q := tr.Room.CurrentGameQuestion()
	if q == nil {
		return
	}
	delay := time.Duration(rand.Int64N(int64(b.opts.maxDelay) + 1))
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if cur := b.client.Room(); cur == nil || cur.CurrentQuestion != tr.QuestionIndex {
		return
	}

	pick := q.Question.CorrectAnswerID
	if rand.Float64() >= b.opts.accuracy {
		for _, a := range q.Answers {
			if !a.IsCorrect {
				pick = a.ID
				break
			}
		}
	}
	state, err := b.client.SelectAnswer(pick)
	if err != nil {
		log.Debug().Err(err).Int("question", tr.QuestionIndex).Msg("answer skipped")
		return
	}
	log.Info().
		Int("question", state.QuestionIndex).
		Bool("correct", state.Correct).
		Float64("response_time", state.ResponseTime).
		Msg("answered")
}

func printStandings(r *models.Room) {
	if r == nil {
		return
	}
	fmt.Println("final standings:")
	for i, s := range roomsync.Standings(r) {
		fmt.Printf("%2d. %-20s %4d\n", i+1, s.Name, s.Score)
	}
}
