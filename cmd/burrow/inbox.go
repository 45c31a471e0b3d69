package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Inspect agent inboxes",
}

var inboxListCmd = &cobra.Command{
	Use:   "list AGENT_ID",
	Short: "List an agent's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unreadOnly, _ := cmd.Flags().GetBool("unread")

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		msgs, err := e.store.ListMessagesTo(context.Background(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFROM\tPRIORITY\tREAD\tTHREAD\tSUBJECT")
		for _, m := range msgs {
			if unreadOnly && m.Read {
				continue
			}
			read := "no"
			if m.Read {
				read = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				m.ID, m.FromAgent, m.Priority, read, m.ThreadID, m.Subject)
		}
		return w.Flush()
	},
}

var inboxReadCmd = &cobra.Command{
	Use:   "read MSG_ID",
	Short: "Print a message and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		msg, err := e.bus.MarkRead(context.Background(), args[0])
		if err != nil {
			return err
		}

		body, err := os.ReadFile(e.resolver.MessagePath(msg.ToAgent, msg.ID, true))
		if err != nil {
			return fmt.Errorf("read message body: %w", err)
		}
		fmt.Print(string(body))
		return nil
	},
}

func init() {
	inboxCmd.AddCommand(inboxListCmd)
	inboxCmd.AddCommand(inboxReadCmd)

	inboxListCmd.Flags().Bool("unread", false, "Show unread messages only")
}
