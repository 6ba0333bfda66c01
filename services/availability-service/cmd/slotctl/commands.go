package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/clinicslots/libs/auth"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/manager"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

func dateFlag(cmd *cobra.Command) {
	cmd.Flags().String("date", time.Now().Format("2006-01-02"), "calendar day (YYYY-MM-DD)")
}

func (a *app) showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the day's slots with their warnings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, done, err := a.session(cmd.Context(), a.v.GetString("date"))
			if err != nil {
				return err
			}
			defer done()
			printSchedule(cmd.OutOrStdout(), m)
			return nil
		},
	}
	dateFlag(cmd)
	return cmd
}

func (a *app) addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append slots after the day's last slot and save",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, done, err := a.session(cmd.Context(), a.v.GetString("date"))
			if err != nil {
				return err
			}
			defer done()
			for i := 0; i < a.v.GetInt("count"); i++ {
				s, err := m.AddSingleSlot()
				if err != nil {
					return err
				}
				if loc := a.v.GetString("location"); loc != "" {
					if err := m.UpdateSlotField(s.ID, model.FieldLocationID, loc); err != nil {
						return err
					}
				}
			}
			return save(cmd, m)
		},
	}
	dateFlag(cmd)
	cmd.Flags().Int("count", 1, "number of slots to add")
	cmd.Flags().String("location", "", "location id for the new slots")
	return cmd
}

func (a *app) fillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Generate slots from the last slot up to --until and save",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, done, err := a.session(cmd.Context(), a.v.GetString("date"))
			if err != nil {
				return err
			}
			defer done()
			added, err := m.GenerateMagicSlots(a.v.GetString("until"))
			if err != nil {
				return err
			}
			if len(added) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no slots fit before", a.v.GetString("until"))
				return nil
			}
			return save(cmd, m)
		},
	}
	dateFlag(cmd)
	cmd.Flags().String("until", "17:00", "latest end time (HH:MM)")
	return cmd
}

func (a *app) editCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <slot-id> <field> <value>",
		Short: "Change start_time, end_time or location_id of a slot and save",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := a.session(cmd.Context(), a.v.GetString("date"))
			if err != nil {
				return err
			}
			defer done()
			if err := m.UpdateSlotField(args[0], args[1], args[2]); err != nil {
				return err
			}
			return save(cmd, m)
		},
	}
	dateFlag(cmd)
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <slot-id>...",
		Short: "Remove unbooked slots and save",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := a.session(cmd.Context(), a.v.GetString("date"))
			if err != nil {
				return err
			}
			defer done()
			for _, id := range args {
				if err := m.RemoveSlot(id); err != nil {
					return err
				}
			}
			return save(cmd, m)
		},
	}
	dateFlag(cmd)
	return cmd
}

func (a *app) copyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Replicate the day's unbooked slots onto other days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, done, err := a.session(cmd.Context(), a.v.GetString("date"))
			if err != nil {
				return err
			}
			defer done()
			report, err := m.CopyScheduleToDates(cmd.Context(), a.v.GetStringSlice("to"))
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, res := range report.Results {
				status := "ok"
				if res.Err != nil {
					status = res.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", res.Date, res.Inserted, status)
			}
			_ = w.Flush()
			return err
		},
	}
	dateFlag(cmd)
	cmd.Flags().StringSlice("to", nil, "target days, comma separated")
	return cmd
}

func (a *app) occupiedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "occupied",
		Short: "List days in a range that hold booked slots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to := a.v.GetString("from"), a.v.GetString("to")
			m, done, err := a.session(cmd.Context(), from)
			if err != nil {
				return err
			}
			defer done()
			if err := m.LoadOccupiedDates(cmd.Context(), from, to); err != nil {
				return err
			}
			for _, d := range m.OccupiedDates() {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
	now := time.Now()
	cmd.Flags().String("from", now.Format("2006-01-02"), "first day")
	cmd.Flags().String("to", now.AddDate(0, 1, 0).Format("2006-01-02"), "last day")
	return cmd
}

func (a *app) locationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Manage practice locations (sqlite mode)",
	}
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a location for the doctor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.principal()
			if err != nil {
				return err
			}
			h, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer h.close()
			if h.sqlite == nil {
				return errors.New("locations are managed by the clinic service in postgres mode")
			}
			id, err := h.sqlite.AddLocation(cmd.Context(), p.UserID, model.Location{
				Name:    args[0],
				City:    a.v.GetString("city"),
				Address: a.v.GetString("address"),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	add.Flags().String("city", "", "city")
	add.Flags().String("address", "", "street address")
	cmd.AddCommand(add)
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 bearer token for the doctor (local testing)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.principal()
			if err != nil {
				return err
			}
			secret := a.v.GetString("secret")
			if secret == "" {
				return errors.New("--secret is required")
			}
			if role := a.v.GetString("role"); role != "" {
				p.Role = role
			}
			token, err := auth.SignHS256(p, secret, a.v.GetDuration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("secret", "", "JWT_SECRET of the service")
	cmd.Flags().String("role", auth.RoleDoctor, "role claim")
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	return cmd
}

func save(cmd *cobra.Command, m *manager.Manager) error {
	err := m.SaveChanges(cmd.Context())
	var blocked *manager.BlockedError
	if errors.As(err, &blocked) {
		printSchedule(cmd.OutOrStdout(), m)
	}
	if err != nil {
		return err
	}
	printSchedule(cmd.OutOrStdout(), m)
	return nil
}

func printSchedule(out io.Writer, m *manager.Manager) {
	warnings := m.Warnings()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tTIME\tMIN\tLOCATION\tFLAGS\tWARNING\n", m.Date())
	for _, s := range m.Slots() {
		var flags []string
		if s.IsBooked {
			flags = append(flags, "booked")
		}
		if s.IsNew {
			flags = append(flags, "new")
		}
		if s.MissingFields() {
			flags = append(flags, "incomplete")
		}
		msg := ""
		if wr := warnings[s.ID]; wr != nil {
			msg = wr.Message
		}
		fmt.Fprintf(w, "%s\t%s-%s\t%d\t%s\t%s\t%s\n",
			s.ID, s.StartTime, s.EndTime, s.Duration, s.LocationID, strings.Join(flags, ","), msg)
	}
	_ = w.Flush()
}
