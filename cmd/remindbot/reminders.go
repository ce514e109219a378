package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"remindbot/internal/app"
	"remindbot/internal/reminder"
	"remindbot/internal/reminders"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

var (
	owner int64

	addTitle    string
	addDesc     string
	addAt       string
	addLeads    []string
	addChannel  int64
	addUser     int64
	addEveryone bool
	addMentions []int64
	addTZ       string
)

func openOffline() (*app.Offline, error) {
	return app.OpenOffline(cfgFile, logx.Nop())
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Schedule a reminder",
	Example: `  remindbot add --owner 42 --channel -100123 --title "Standup" --at "2030-01-15 09:30" --lead 15m --lead 1h
  remindbot add --owner 42 --user 42 --title "Stretch" --at 2h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var dest reminder.Destination
		switch {
		case addChannel != 0 && addUser != 0:
			return errors.New("use either --channel or --user, not both")
		case addChannel != 0:
			dest = reminder.ToChannel(addChannel)
		case addUser != 0:
			dest = reminder.ToUser(addUser)
		default:
			return errors.New("one of --channel or --user is required")
		}
		mentions := reminder.MentionUsers(addMentions...)
		if addEveryone {
			mentions = reminder.MentionEveryone()
		}

		o, err := openOffline()
		if err != nil {
			return err
		}
		defer o.Close()

		id, err := o.Service.ScheduleReminder(cmd.Context(), reminders.ScheduleRequest{
			OwnerID:       owner,
			Title:         addTitle,
			Description:   addDesc,
			TimeSpec:      addAt,
			LeadTimeSpecs: addLeads,
			Destination:   dest,
			Mentions:      mentions,
			Timezone:      addTZ,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's reminders by main time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := openOffline()
		if err != nil {
			return err
		}
		defer o.Close()

		rs, err := o.Service.ListReminders(cmd.Context(), owner)
		if err != nil {
			return err
		}
		if len(rs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no reminders")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMAIN (UTC)\tIN\tLEADS\tDESTINATION\tTITLE")
		for _, r := range rs {
			in := "due"
			if d := r.MainTime.Sub(now); d > 0 {
				in = timeparse.FormatRemaining(d)
			}
			leads := make([]string, 0, len(r.LeadTimes))
			for _, t := range r.LeadTimes {
				leads = append(leads, t.Format("01-02 15:04"))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.MainTime.Format("2006-01-02 15:04"), in, strings.Join(leads, ","), r.Destination, r.Title)
		}
		return w.Flush()
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete ID",
	Aliases: []string{"rm"},
	Short:   "Delete one of the owner's reminders",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := openOffline()
		if err != nil {
			return err
		}
		defer o.Close()

		if err := o.Service.DeleteReminder(cmd.Context(), owner, args[0]); err != nil {
			if errors.Is(err, reminder.ErrNotFound) {
				return fmt.Errorf("no reminder %q for owner %d", args[0], owner)
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, listCmd, deleteCmd} {
		c.Flags().Int64Var(&owner, "owner", 0, "owner user id")
		_ = c.MarkFlagRequired("owner")
		rootCmd.AddCommand(c)
	}

	f := addCmd.Flags()
	f.StringVar(&addTitle, "title", "", "reminder title")
	f.StringVar(&addDesc, "desc", "", "optional description")
	f.StringVar(&addAt, "at", "", `main time: "YYYY-MM-DD HH:MM" or an offset like 2h30m`)
	f.StringSliceVar(&addLeads, "lead", nil, "lead offset before the main time (repeatable)")
	f.Int64Var(&addChannel, "channel", 0, "deliver to this chat id")
	f.Int64Var(&addUser, "user", 0, "deliver as a direct message to this user id")
	f.BoolVar(&addEveryone, "everyone", false, "mention everyone in the channel")
	f.Int64SliceVar(&addMentions, "mention", nil, "user id to mention (repeatable)")
	f.StringVar(&addTZ, "tz", "", "IANA timezone for absolute times (default scheduler.timezone)")
	_ = addCmd.MarkFlagRequired("title")
	_ = addCmd.MarkFlagRequired("at")
	addCmd.MarkFlagsMutuallyExclusive("everyone", "mention")
	addCmd.MarkFlagsMutuallyExclusive("channel", "user")
}
