package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"agrobot/internal/audio"
	"agrobot/internal/chat"
	"agrobot/internal/history"
	"agrobot/internal/metrics"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with the assistant",
	Long: `Starts an interactive chat session. Plain lines are sent as questions.

Commands inside the session:
  :new            start a fresh chat
  :history        list saved chats
  :load <n>       resume saved chat number n
  :image <path>   send a photo (optionally followed by a caption prompt)
  :play           replay the last voice answer
  :quit           exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func runChat(ctx context.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if !e.prefs.OnboardingComplete(ctx) {
		fmt.Println("First run: pick a language with `agrocli setup` for localized answers.")
	}

	hist := history.NewStore(history.Config{
		Blob:    e.prefs,
		Logger:  e.logger,
		Metrics: metrics.Global(),
	})
	hist.Load(ctx)
	defer hist.Flush()

	player := audio.NewPlayer(audio.NewExecDriver(), e.logger, metrics.Global())
	defer player.Stop()

	session := chat.NewSession(chat.Config{
		Backend:  e.client,
		Saver:    hist,
		Prefs:    e.prefs,
		Autoplay: player,
		Logger:   e.logger,
		Metrics:  metrics.Global(),
	})

	fmt.Println("AgroHelp chat. Type a question, :help for commands, :quit to exit.")
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			fmt.Println()
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			stop, err := runReplCommand(ctx, line, session, hist, player)
			if err != nil {
				fmt.Println(err.Error())
			}
			if stop {
				return nil
			}
			continue
		}
		sendAndPrint(ctx, session, chat.Input{Text: line})
	}
}

func runReplCommand(ctx context.Context, line string, session *chat.Session, hist *history.Store, player *audio.Player) (stop bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true, nil

	case ":help":
		fmt.Println(":new :history :load <n> :image <path> [caption] :play :quit")
		return false, nil

	case ":new":
		session.Reset()
		fmt.Println("Started a new chat.")
		return false, nil

	case ":history":
		entries := hist.Entries()
		if len(entries) == 0 {
			fmt.Println("No saved chats yet.")
			return false, nil
		}
		for i, e := range entries {
			fmt.Printf("%2d. %s (%s)\n", i+1, e.Title, e.Timestamp.Format("2006-01-02 15:04"))
		}
		return false, nil

	case ":load":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: :load <n>")
		}
		n, convErr := strconv.Atoi(fields[1])
		entries := hist.Entries()
		if convErr != nil || n < 1 || n > len(entries) {
			return false, fmt.Errorf("no saved chat %q", fields[1])
		}
		entry := entries[n-1]
		session.Load(entry.ID, entry.Messages)
		fmt.Printf("Resumed: %s\n", entry.Title)
		for _, m := range entry.Messages {
			printMessage(m)
		}
		return false, nil

	case ":image":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: :image <path> [caption]")
		}
		data, readErr := os.ReadFile(fields[1])
		if readErr != nil {
			return false, fmt.Errorf("read image: %w", readErr)
		}
		caption := strings.Join(fields[2:], " ")
		sendAndPrint(ctx, session, chat.Input{Text: caption, Image: data})
		return false, nil

	case ":play":
		msgs := session.Messages()
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].HasAudio() {
				player.PlayPause(audio.Track{
					ID:   fmt.Sprintf("%s/%d", session.ID(), i),
					Data: msgs[i].Audio,
				})
				return false, nil
			}
		}
		return false, fmt.Errorf("no voice answer in this chat yet")

	default:
		return false, fmt.Errorf("unknown command %s, try :help", fields[0])
	}
}

func sendAndPrint(ctx context.Context, session *chat.Session, in chat.Input) {
	// Transport failures already surface as an assistant error message.
	_ = session.Send(ctx, in)
	msgs := session.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Sender == chat.SenderAssistant {
		printMessage(last)
	}
}

func printMessage(m chat.Message) {
	prefix := "you"
	if m.Sender == chat.SenderAssistant {
		prefix = "agrohelp"
	}
	text := m.Text
	if text == "" && len(m.Image) > 0 {
		text = "(photo)"
	}
	if m.HasAudio() {
		text += "  [voice answer, :play to listen]"
	}
	fmt.Printf("%s: %s\n", prefix, text)
}
