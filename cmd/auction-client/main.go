package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"github.com/rs/zerolog"

	"gavel-auction/internal/auction"
	"gavel-auction/internal/client"
	"gavel-auction/internal/config"
	"gavel-auction/internal/presence"
)

// consoleNotifier surfaces session events on the terminal. The console is
// pull-based: StateChanged is satisfied by the next list/users command, so it
// needs no work here.
type consoleNotifier struct{}

func (consoleNotifier) Info(text string)  { pterm.Info.Println(text) }
func (consoleNotifier) Error(text string) { pterm.Error.Println(text) }
func (consoleNotifier) StateChanged()     {}

func main() {
	serverFlag := flag.String("server", "", "server address as host:port (defaults to configuration)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		pterm.Error.Printfln("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		pterm.Error.Printfln("Invalid configuration: %v", err)
		os.Exit(1)
	}

	serverAddr := *serverFlag
	if serverAddr == "" {
		serverAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	// The terminal is the interface; logs go to a file so they never tear
	// the prompt.
	logger := newFileLogger(cfg)

	pterm.Print("\n")
	title, err := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("G", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("avel", pterm.FgDarkGray.ToStyle()),
	).Srender()
	if err == nil {
		pterm.Print(title)
	}
	pterm.Println()

	session := client.NewSession(client.SessionParams{
		Config:   cfg,
		Notifier: consoleNotifier{},
		Logger:   logger,
	})

	spinner, _ := pterm.DefaultSpinner.Start("Connecting to " + serverAddr + "...")
	if err := session.Connect(serverAddr); err != nil {
		spinner.Fail()
		pterm.Error.Printfln("Could not reach the server: %v", err)
		os.Exit(1)
	}
	spinner.Success()

	username, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Enter your username").Show()
	if err := session.Login(strings.TrimSpace(username)); err != nil {
		pterm.Error.Printfln("Login failed: %v", err)
		session.Close()
		os.Exit(1)
	}

	pterm.Println()
	printHelp()

	for {
		line, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(">").Show()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "list":
			if err := session.RequestAuctionList(); err != nil {
				pterm.Error.Println(err.Error())
				continue
			}
			// Give the refreshed snapshots a moment to arrive.
			time.Sleep(200 * time.Millisecond)
			printAuctions("Active auctions", session.ActiveAuctions())

		case "history":
			printAuctions("Ended auctions", session.HistoricalAuctions())

		case "users":
			printUsers(session.Users())

		case "bid":
			if len(fields) != 3 {
				pterm.Warning.Println("usage: bid <auction-id> <amount>")
				continue
			}
			amount, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				pterm.Warning.Println("amount must be a number")
				continue
			}
			if err := session.PlaceBid(fields[1], amount); err != nil {
				pterm.Error.Println(err.Error())
			} else {
				pterm.Info.Println("Bid submitted")
			}

		case "create":
			createAuction(session)

		case "msg":
			if len(fields) < 3 {
				pterm.Warning.Println("usage: msg <username> <text>")
				continue
			}
			sendMessage(session, fields[1], strings.Join(fields[2:], " "))

		case "help":
			printHelp()

		case "logout", "quit", "exit":
			session.Logout()
			pterm.Println("Goodbye.")
			return

		default:
			pterm.Warning.Printfln("Unknown command %q, type help", fields[0])
		}
	}
}

func createAuction(session *client.Session) {
	name, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Item name").Show()
	description, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Description").Show()
	startBidText, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Start bid").Show()
	durationText, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Duration in seconds").Show()

	startBid, err := strconv.ParseFloat(strings.TrimSpace(startBidText), 64)
	if err != nil {
		pterm.Warning.Println("start bid must be a number")
		return
	}
	duration, err := strconv.Atoi(strings.TrimSpace(durationText))
	if err != nil {
		pterm.Warning.Println("duration must be a whole number of seconds")
		return
	}

	if err := session.CreateAuction(strings.TrimSpace(name), strings.TrimSpace(description), startBid, duration); err != nil {
		pterm.Error.Println(err.Error())
	} else {
		pterm.Info.Println("Auction submitted")
	}
}

// sendMessage resolves a username to an id and hands the message to the
// session; delivery happens over the direct peer channel.
func sendMessage(session *client.Session, username, content string) {
	var receiverID string
	for _, user := range session.Users() {
		if user.Username == username {
			receiverID = user.UserID
			break
		}
	}
	if receiverID == "" {
		pterm.Warning.Printfln("No online user named %q", username)
		return
	}
	if err := session.SendDirectMessage(receiverID, content, ""); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func printAuctions(heading string, items []auction.Item) {
	if len(items) == 0 {
		pterm.Info.Printfln("%s: none", heading)
		return
	}
	now := time.Now()
	rows := pterm.TableData{{"ID", "Name", "Current bid", "Highest bidder", "Time left", "Status"}}
	for _, item := range items {
		bidder := item.HighestBidderName
		if bidder == "" {
			bidder = "-"
		}
		remaining := "-"
		if item.IsActive() {
			remaining = item.RemainingTime(now).Round(time.Second).String()
		}
		rows = append(rows, []string{
			item.ID,
			item.Name,
			fmt.Sprintf("%.2f", item.CurrentBid),
			bidder,
			remaining,
			string(item.Status),
		})
	}
	pterm.Println(pterm.LightYellow(heading))
	pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printUsers(users []presence.UserInfo) {
	if len(users) == 0 {
		pterm.Info.Println("No other users online")
		return
	}
	rows := pterm.TableData{{"Username", "ID"}}
	for _, user := range users {
		rows = append(rows, []string{user.Username, user.UserID})
	}
	pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printHelp() {
	pterm.Println("Commands:")
	pterm.Println("  list                    show active auctions")
	pterm.Println("  history                 show ended auctions")
	pterm.Println("  users                   show online users")
	pterm.Println("  bid <id> <amount>       bid on an auction")
	pterm.Println("  create                  create a new auction")
	pterm.Println("  msg <username> <text>   send a direct message")
	pterm.Println("  logout                  leave")
}

func newFileLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out, err := os.OpenFile("gavel-client.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop()
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(level)
}
