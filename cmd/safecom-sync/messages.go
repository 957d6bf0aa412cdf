package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/syncclient"
	"github.com/spf13/cobra"
)

func conversationsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List your conversations with unread counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			convs := s.client.Conversations.FetchAll(cmd.Context(), nil)
			if len(convs) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			for _, c := range convs {
				title := c.Title
				if title == "" {
					title = string(c.Type)
				}
				fmt.Printf("%s  %-20s  unread %-3d  %s\n", c.ID, title, c.UnreadCount, c.LastMessage)
			}
			return nil
		},
	}
}

func messagesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages [conversation-id]",
		Short: "Show a conversation and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversation id: %w", err)
			}
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			msgs := s.client.Messages.FetchConversation(cmd.Context(), id, limit)
			// Pages come newest first; print oldest first.
			for i := len(msgs) - 1; i >= 0; i-- {
				m := msgs[i]
				fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("Jan 2 15:04"), m.SenderID, m.Content)
			}

			if noRead, _ := cmd.Flags().GetBool("no-read"); !noRead && len(msgs) > 0 {
				if err := s.client.Messages.MarkRead(cmd.Context(), id); err != nil {
					return fmt.Errorf("mark read: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 50, "Messages to fetch")
	cmd.Flags().Bool("no-read", false, "Do not mark the conversation read")

	cmd.AddCommand(sendCmd(opts))
	return cmd
}

func sendCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send a message to a conversation or directly to a user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req syncclient.SendRequest
			req.Content = strings.Join(args, " ")

			if v, _ := cmd.Flags().GetString("to"); v != "" {
				id, err := uuid.Parse(v)
				if err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
				req.RecipientID = &id
			}
			if v, _ := cmd.Flags().GetString("conversation"); v != "" {
				id, err := uuid.Parse(v)
				if err != nil {
					return fmt.Errorf("invalid --conversation: %w", err)
				}
				req.ConversationID = &id
			}
			if req.RecipientID == nil && req.ConversationID == nil {
				return fmt.Errorf("one of --to or --conversation is required")
			}

			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			res := s.client.Messages.Send(cmd.Context(), req)
			if !res.OK() {
				return fmt.Errorf("send: %w", res.Err)
			}
			fmt.Printf("Sent #%d in %s\n", res.Value.ID, res.Value.ConversationID)
			return nil
		},
	}
	cmd.Flags().String("to", "", "Recipient user id (direct message)")
	cmd.Flags().String("conversation", "", "Conversation id")
	return cmd
}
