package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Abdull600/study-circle-voice/client"
	"github.com/Abdull600/study-circle-voice/core"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serverURL   string
	accessToken string
)

func addClientFlags(c *cobra.Command) {
	c.Flags().StringVar(&serverURL, "server", "http://localhost:3002", "Study circles server url")
	c.Flags().StringVar(&accessToken, "token", os.Getenv("STUDY_CIRCLES_TOKEN"), "Access token (defaults to $STUDY_CIRCLES_TOKEN)")
}

var publishCmd = &cobra.Command{
	Use:   "publish <room-id> <file>",
	Short: "Share a document with everyone in a room you teach",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, path := args[0], args[1]

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		c, err := client.New(serverURL, accessToken)
		if err != nil {
			return err
		}

		url, err := c.PublishDocument(cmd.Context(), roomID, core.Document{
			Name:        filepath.Base(path),
			ContentType: http.DetectContentType(data),
			Data:        data,
		})
		if err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"url":     url,
		}).Info("Document published")
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

func init() {
	addClientFlags(publishCmd)
	rootCmd.AddCommand(publishCmd)
}
