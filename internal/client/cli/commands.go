package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/AlibekovAA/class-schedule/internal/client/session"
	"github.com/AlibekovAA/class-schedule/internal/schedule/domain"
)

func (a *App) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func (a *App) credentials(email string) (string, string, error) {
	if email == "" {
		var err error
		if email, err = promptLine(a.in, a.out, "Email"); err != nil {
			return "", "", err
		}
	}
	password, err := promptPassword(a.out)
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

func (a *App) login(ctx context.Context, args []string) error {
	fs := a.flags("login")
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, password, err := a.credentials(*email)
	if err != nil {
		return err
	}
	if err := a.api.Login(ctx, e, password); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged in")
	return nil
}

func (a *App) register(ctx context.Context, args []string) error {
	fs := a.flags("register")
	email := fs.String("email", "", "account email")
	admin := fs.Bool("admin", false, "request the admin role")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, password, err := a.credentials(*email)
	if err != nil {
		return err
	}
	if err := a.api.Register(ctx, e, password, *admin); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "registered and logged in")
	return nil
}

func (a *App) logout(ctx context.Context, _ []string) error {
	if err := a.api.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func (a *App) logoutAll(ctx context.Context, _ []string) error {
	if err := a.api.LogoutEverywhere(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged out of every session")
	return nil
}

func (a *App) list(ctx context.Context, args []string) error {
	fs := a.flags("list")
	group := fs.String("group", "", "group name")
	teacher := fs.String("teacher", "", "teacher name")
	date := fs.String("date", "", "day, YYYY-MM-DD")
	from := fs.String("from", "", "window start, RFC 3339")
	to := fs.String("to", "", "window end, RFC 3339")
	grouped := fs.Bool("grouped", false, "group sessions by time slot")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *grouped {
		slots, err := a.api.GroupedSchedules(ctx)
		if err != nil {
			return err
		}
		for _, slot := range slots {
			fmt.Fprintf(a.out, "%s\n", slot.TimeSlot)
			a.printSchedules(slot.Schedules)
		}
		return nil
	}

	q := session.ScheduleQuery{Group: *group, Teacher: *teacher, Date: *date}
	var err error
	if q.From, err = parseOptionalTime("from", *from); err != nil {
		return err
	}
	if q.To, err = parseOptionalTime("to", *to); err != nil {
		return err
	}

	schedules, err := a.api.ListSchedules(ctx, q)
	if err != nil {
		return err
	}
	a.printSchedules(schedules)
	return nil
}

func (a *App) get(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	s, err := a.api.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	a.printSchedules([]domain.Schedule{s})
	return nil
}

func (a *App) create(ctx context.Context, args []string) error {
	fs := a.flags("create")
	group := fs.String("group", "", "group name")
	teacher := fs.String("teacher", "", "teacher name")
	subject := fs.String("subject", "", "subject")
	room := fs.String("room", "", "room")
	start := fs.String("start", "", "start, RFC 3339")
	end := fs.String("end", "", "end, RFC 3339")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fields := session.ScheduleFields{
		GroupName:   *group,
		TeacherName: *teacher,
		Subject:     *subject,
		Room:        *room,
	}
	var err error
	if fields.StartTime, err = parseRequiredTime("start", *start); err != nil {
		return err
	}
	if fields.EndTime, err = parseRequiredTime("end", *end); err != nil {
		return err
	}

	s, err := a.api.CreateSchedule(ctx, fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created schedule %d\n", s.ID)
	return nil
}

func (a *App) update(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}

	fs := a.flags("update")
	group := fs.String("group", "", "group name")
	teacher := fs.String("teacher", "", "teacher name")
	subject := fs.String("subject", "", "subject")
	room := fs.String("room", "", "room")
	start := fs.String("start", "", "start, RFC 3339")
	end := fs.String("end", "", "end, RFC 3339")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	var changes session.ScheduleChanges
	var parseErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "group":
			changes.GroupName = group
		case "teacher":
			changes.TeacherName = teacher
		case "subject":
			changes.Subject = subject
		case "room":
			changes.Room = room
		case "start":
			t, err := parseRequiredTime("start", *start)
			if err != nil {
				parseErr = err
				return
			}
			changes.StartTime = &t
		case "end":
			t, err := parseRequiredTime("end", *end)
			if err != nil {
				parseErr = err
				return
			}
			changes.EndTime = &t
		}
	})
	if parseErr != nil {
		return parseErr
	}

	s, err := a.api.UpdateSchedule(ctx, id, changes)
	if err != nil {
		return err
	}
	a.printSchedules([]domain.Schedule{s})
	return nil
}

func (a *App) delete(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := a.api.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted schedule %d\n", id)
	return nil
}

// watch prints change events until ctx is cancelled.
func (a *App) watch(ctx context.Context, _ []string) error {
	fmt.Fprintln(a.out, "watching schedule changes, press Ctrl+C to stop")
	err := a.api.WatchSchedules(ctx, func(e domain.Event) {
		fmt.Fprintf(a.out, "%s #%d %s %s %s %s\n",
			e.Type, e.Schedule.ID, e.Schedule.GroupName, e.Schedule.Subject,
			e.Schedule.StartTime.Format(time.RFC3339), e.Schedule.Room)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) printSchedules(schedules []domain.Schedule) {
	if len(schedules) == 0 {
		fmt.Fprintln(a.out, "no schedules")
		return
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGROUP\tTEACHER\tSUBJECT\tROOM\tSTART\tEND")
	for _, s := range schedules {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.GroupName, s.TeacherName, s.Subject, s.Room,
			s.StartTime.Format(time.RFC3339), s.EndTime.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func parseID(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, errors.New("schedule id is required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid schedule id %q", args[0])
	}
	return id, nil
}

func parseOptionalTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return parseRequiredTime(name, raw)
}

func parseRequiredTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("-%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}
