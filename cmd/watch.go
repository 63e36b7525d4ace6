package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Abdull600/study-circle-voice/broadcast"
	"github.com/Abdull600/study-circle-voice/client"
	"github.com/Abdull600/study-circle-voice/core"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Join a room and print every document the instructor shares",
	Long: `Join a room and print the shared document url whenever it changes.

Type "mute" or "hand" and press enter to toggle your microphone or raise
your hand. Both stay on this machine. "doc" prints the current document
again and "quit" leaves.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL, accessToken)
		if err != nil {
			return err
		}
		me, err := c.Me(cmd.Context())
		if err != nil {
			return err
		}
		return watchRoom(cmd.Context(), c, me, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	addClientFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

type remoteRooms interface {
	broadcast.RoomReader
	core.ChangeFeed
}

// watchRoom runs until input ends, "quit" is typed, ctx is cancelled or the
// feed drops. A dropped feed is returned as core.ErrFeedDisconnected.
func watchRoom(ctx context.Context, rooms remoteRooms, me core.Identity, roomID string, in io.Reader, out io.Writer) error {
	session, err := broadcast.NewSession(ctx, rooms, roomID, me)
	if err != nil {
		return err
	}
	role := "participant"
	if session.IsInstructor {
		role = "instructor"
	}
	fmt.Fprintf(out, "Joined %s as %s (muted)\n", roomID, role)

	// Subscriptions write the newest url into view and poke changed. Only the
	// latest url is printed, however far behind out falls.
	view := broadcast.NewView()
	changed := make(chan struct{}, 1)
	sub, err := broadcast.NewSubscriber(rooms, rooms, view).Subscribe(ctx, roomID, func(string) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	var shown string
	showLatest := func() {
		url, ok := view.Get(roomID)
		if !ok || url == shown {
			return
		}
		shown = url
		fmt.Fprintf(out, "Document: %s\n", url)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-changed:
			showLatest()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "mute":
				if session.ToggleMute() {
					fmt.Fprintln(out, "Muted")
				} else {
					fmt.Fprintln(out, "Unmuted")
				}
			case "hand":
				if session.ToggleHand() {
					fmt.Fprintln(out, "Hand raised")
				} else {
					fmt.Fprintln(out, "Hand lowered")
				}
			case "doc":
				if url, ok := view.Get(roomID); ok {
					fmt.Fprintf(out, "Document: %s\n", url)
				} else {
					fmt.Fprintln(out, "No document shared yet")
				}
			case "quit", "exit":
				return nil
			case "":
			default:
				fmt.Fprintf(out, "Unknown command %q\n", line)
			}
		case <-sub.Disconnected():
			showLatest()
			if err := sub.Err(); err != nil {
				fmt.Fprintln(out, "Disconnected from the room, rejoin to keep following")
				return fmt.Errorf("room %s: %w", roomID, err)
			}
			return errors.New("subscription closed")
		case <-ctx.Done():
			return nil
		}
	}
}
